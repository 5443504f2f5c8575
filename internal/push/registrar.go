package push

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/handychat/internal/api"
	"github.com/matheus3301/handychat/internal/store"
	"go.uber.org/zap"
)

// DeviceAPI registers push tokens with the server.
type DeviceAPI interface {
	RegisterDevice(ctx context.Context, req api.RegisterDeviceRequest) error
	UnregisterDevice(ctx context.Context, token string) error
}

// KV persists the registered token.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Registrar keeps exactly one device token registered per profile.
type Registrar struct {
	api    DeviceAPI
	kv     KV
	logger *zap.Logger
}

// NewRegistrar creates a Registrar.
func NewRegistrar(client DeviceAPI, kv KV, logger *zap.Logger) *Registrar {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registrar{api: client, kv: kv, logger: logger}
}

// Register registers token, replacing a previously registered one.
func (r *Registrar) Register(ctx context.Context, token, platform string) error {
	if token == "" {
		return errors.New("register device: empty token")
	}
	prev, err := r.Current(ctx)
	if err != nil {
		return err
	}
	if prev == token {
		return nil
	}
	if err := r.api.RegisterDevice(ctx, api.RegisterDeviceRequest{Token: token, Platform: platform}); err != nil {
		return err
	}
	if prev != "" {
		if err := r.api.UnregisterDevice(ctx, prev); err != nil {
			r.logger.Warn("previous device token not unregistered", zap.Error(err))
		}
	}
	if err := r.kv.Set(ctx, store.KeyPushDeviceToken, token); err != nil {
		return fmt.Errorf("remember device token: %w", err)
	}
	r.logger.Info("device registered", zap.String("platform", platform))
	return nil
}

// Unregister removes the registered token, if any.
func (r *Registrar) Unregister(ctx context.Context) error {
	token, err := r.Current(ctx)
	if err != nil || token == "" {
		return err
	}
	if err := r.api.UnregisterDevice(ctx, token); err != nil {
		return err
	}
	if err := r.kv.Delete(ctx, store.KeyPushDeviceToken); err != nil {
		return fmt.Errorf("forget device token: %w", err)
	}
	r.logger.Info("device unregistered")
	return nil
}

// Current returns the registered token, "" when none.
func (r *Registrar) Current(ctx context.Context) (string, error) {
	token, err := r.kv.Get(ctx, store.KeyPushDeviceToken)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read device token: %w", err)
	}
	return token, nil
}

// TeardownHook unregisters on logout. Errors are logged; logout proceeds.
func (r *Registrar) TeardownHook(ctx context.Context) {
	if err := r.Unregister(ctx); err != nil {
		r.logger.Warn("device unregister on logout failed", zap.Error(err))
	}
}
