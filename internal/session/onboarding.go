package session

import (
	"context"

	"github.com/matheus3301/handychat/internal/store"
)

// Onboarding steps shown once per profile.
const (
	StepWelcome     = "welcome"
	StepAttachHint  = "attach_hint"
	StepDeviceSetup = "device_setup"
)

// FlagStore persists boolean flags.
type FlagStore interface {
	Flag(ctx context.Context, key string) (bool, error)
	SetFlag(ctx context.Context, key string, on bool) error
}

// Onboarding remembers which introductory screens the user has dismissed.
// Nothing forces a step to show again; Reset is the only way back.
type Onboarding struct {
	flags FlagStore
}

// NewOnboarding wraps flags.
func NewOnboarding(flags FlagStore) *Onboarding {
	return &Onboarding{flags: flags}
}

// Pending reports whether step has not been completed yet. Read errors count
// as completed so a broken store never traps the user in a hint loop.
func (o *Onboarding) Pending(ctx context.Context, step string) bool {
	done, err := o.flags.Flag(ctx, store.KeyOnboardingPrefix+step)
	if err != nil {
		return false
	}
	return !done
}

// Complete marks step as done.
func (o *Onboarding) Complete(ctx context.Context, step string) error {
	return o.flags.SetFlag(ctx, store.KeyOnboardingPrefix+step, true)
}

// Reset clears the given steps.
func (o *Onboarding) Reset(ctx context.Context, steps ...string) error {
	for _, step := range steps {
		if err := o.flags.SetFlag(ctx, store.KeyOnboardingPrefix+step, false); err != nil {
			return err
		}
	}
	return nil
}
