package whatsapp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"wa_guard/internal/config"
)

// ErrNotConnected is returned when the bot account is not paired or offline.
var ErrNotConnected = errors.New("whatsapp client not connected")

const (
	statusInterval = 5 * time.Second
	maxQRTimeouts  = 5
)

// Client is the bot account used for directory lookups and enforcement.
type Client struct {
	cfg config.WhatsAppConfig
	log *zap.Logger

	mu        sync.RWMutex
	client    *whatsmeow.Client
	container *sqlstore.Container
	qrCode    string
	ready     bool
	qrChan    <-chan whatsmeow.QRChannelItem
	stopChan  chan struct{}
}

func NewClient(cfg config.WhatsAppConfig, log *zap.Logger) *Client {
	return &Client{
		cfg:      cfg,
		log:      log.Named("whatsapp"),
		stopChan: make(chan struct{}),
	}
}

// openStore opens the whatsmeow device store selected by WA_STORE_DRIVER.
func openStore(ctx context.Context, cfg config.WhatsAppConfig) (*sqlstore.Container, error) {
	switch cfg.StoreDriver {
	case "postgres", "pgx":
		if cfg.StoreDSN == "" {
			return nil, fmt.Errorf("WA_STORE_DSN is required when WA_STORE_DRIVER=%s", cfg.StoreDriver)
		}
		return sqlstore.New(ctx, "pgx", cfg.StoreDSN, nil)
	case "", "sqlite":
		return sqlstore.New(ctx, "sqlite", cfg.StoreDSN, nil)
	default:
		return nil, fmt.Errorf("unsupported WA_STORE_DRIVER: %s", cfg.StoreDriver)
	}
}

// Connect restores a stored device or starts QR pairing.
func (c *Client) Connect(ctx context.Context) error {
	container, err := openStore(ctx, c.cfg)
	if err != nil {
		return fmt.Errorf("open device store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("get device: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, nil)

	c.mu.Lock()
	c.container = container
	c.mu.Unlock()

	if deviceStore.ID != nil {
		c.log.Info("found stored session, restoring", zap.String("device", deviceStore.ID.String()))
		if err := client.Connect(); err == nil {
			c.mu.Lock()
			c.client = client
			c.mu.Unlock()
			go c.monitorStatus()
			return nil
		}
		c.log.Warn("failed to restore session, clearing it", zap.Error(err))
		if clearErr := c.clearDevices(ctx); clearErr != nil {
			c.log.Warn("failed to clear invalid session", zap.Error(clearErr))
		}
		deviceStore = container.NewDevice()
		client = whatsmeow.NewClient(deviceStore, nil)
	}

	c.log.Info("no valid session, starting QR pairing")
	qrChan, err := client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("get QR channel: %w", err)
	}
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	c.mu.Lock()
	c.client = client
	c.qrChan = qrChan
	c.ready = false
	c.mu.Unlock()

	go c.monitorQR(qrChan, 0)
	go c.monitorStatus()
	return nil
}

func (c *Client) clearDevices(ctx context.Context) error {
	c.mu.RLock()
	container := c.container
	c.mu.RUnlock()
	if container == nil {
		return fmt.Errorf("device store not initialized")
	}

	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	for _, device := range devices {
		if err := container.DeleteDevice(ctx, device); err != nil {
			c.log.Warn("failed to delete device", zap.Error(err))
		}
	}
	return nil
}

// monitorQR renders pairing codes. timeouts carries over across refreshes so
// an unattended pairing eventually stops asking for new codes.
func (c *Client) monitorQR(qrChan <-chan whatsmeow.QRChannelItem, timeouts int) {
	for {
		select {
		case evt, ok := <-qrChan:
			if !ok {
				return
			}
			switch evt.Event {
			case "code":
				timeouts = 0
				png, err := qrcode.Encode(evt.Code, qrcode.Medium, 256)
				if err != nil {
					c.log.Warn("failed to render QR code", zap.Error(err))
					continue
				}
				c.mu.Lock()
				c.qrCode = "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
				c.mu.Unlock()
				c.log.Info("new pairing QR code available")
			case "timeout":
				timeouts++
				c.mu.Lock()
				c.qrCode = ""
				c.mu.Unlock()
				if timeouts >= maxQRTimeouts {
					c.log.Warn("pairing QR timed out too often, waiting for a manual refresh", zap.Int("timeouts", timeouts))
					return
				}
				backoff := time.Duration(timeouts*timeouts) * time.Second
				if backoff > 30*time.Second {
					backoff = 30 * time.Second
				}
				go func() {
					time.Sleep(backoff)
					if err := c.refreshQR(context.Background(), timeouts); err != nil {
						c.log.Warn("failed to refresh QR after timeout", zap.Error(err))
					}
				}()
				return
			case "success":
				c.log.Info("pairing succeeded")
				return
			default:
				c.log.Debug("QR channel event", zap.String("event", evt.Event))
			}
		case <-c.stopChan:
			return
		}
	}
}

func (c *Client) monitorStatus() {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			if c.client != nil {
				was := c.ready
				c.ready = c.client.Store.ID != nil && c.client.IsConnected()
				if was != c.ready {
					c.log.Info("connection state changed", zap.Bool("ready", c.ready))
					if c.ready {
						c.qrCode = ""
					}
				}
			}
			c.mu.Unlock()
		case <-c.stopChan:
			return
		}
	}
}

// RefreshQR restarts the pairing flow. No-op when already logged in.
func (c *Client) RefreshQR(ctx context.Context) error {
	return c.refreshQR(ctx, 0)
}

func (c *Client) refreshQR(ctx context.Context, timeouts int) error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return fmt.Errorf("client not initialized")
	}
	if client.Store.ID != nil && client.IsConnected() {
		return nil
	}
	if client.IsConnected() {
		client.Disconnect()
	}

	qrChan, err := client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("get QR channel: %w", err)
	}
	if err := client.Connect(); err != nil {
		return fmt.Errorf("reconnect for QR: %w", err)
	}

	c.mu.Lock()
	c.qrCode = ""
	c.qrChan = qrChan
	c.mu.Unlock()

	go c.monitorQR(qrChan, timeouts)
	return nil
}

func (c *Client) QRCode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.qrCode
}

func (c *Client) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// AccountJID returns the paired account, if any.
func (c *Client) AccountJID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil || c.client.Store.ID == nil {
		return ""
	}
	return c.client.Store.ID.String()
}

// Disconnect stops the monitors and closes the connection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.stopChan:
	default:
		close(c.stopChan)
	}
	if c.client != nil {
		c.client.Disconnect()
	}
	c.ready = false
}

func (c *Client) connected() (*whatsmeow.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil || c.client.Store.ID == nil || !c.client.IsConnected() {
		return nil, ErrNotConnected
	}
	return c.client, nil
}

// GroupInfo fetches live group metadata.
func (c *Client) GroupInfo(ctx context.Context, jid types.JID) (*types.GroupInfo, error) {
	client, err := c.connected()
	if err != nil {
		return nil, err
	}
	return withContext(ctx, func() (*types.GroupInfo, error) {
		return client.GetGroupInfo(jid)
	})
}

// UpdateParticipants applies a participant change to a group.
func (c *Client) UpdateParticipants(ctx context.Context, group types.JID, users []types.JID, change whatsmeow.ParticipantChange) ([]types.GroupParticipant, error) {
	client, err := c.connected()
	if err != nil {
		return nil, err
	}
	return withContext(ctx, func() ([]types.GroupParticipant, error) {
		return client.UpdateGroupParticipants(group, users, change)
	})
}

// Send delivers a message to a chat.
func (c *Client) Send(ctx context.Context, to types.JID, msg *waE2E.Message) error {
	client, err := c.connected()
	if err != nil {
		return err
	}
	_, err = client.SendMessage(ctx, to, msg)
	return err
}

// withContext bounds a call that does not take a context.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}
