package health

import (
	"context"
	"errors"

	"github.com/nvollmar/backchannel/internal/profile"
	"github.com/nvollmar/backchannel/pkg/provider/asr"
)

// Recognizer returns a readiness check that fails until the recognition
// model has finished loading. New connections are refused while this
// check fails, so draining it out of rotation is the right behaviour.
func Recognizer(p asr.Provider) Checker {
	return Checker{
		Name: "recognizer",
		Check: func(_ context.Context) error {
			if !p.Ready() {
				return asr.ErrModelUnavailable
			}
			return nil
		},
	}
}

// ProfileStore returns a readiness check probing the profile
// persistence backend. A nil store reports healthy: persistence is
// optional and sessions degrade to in-memory profiles without it.
func ProfileStore(s profile.Store) Checker {
	return Checker{
		Name: "profile_store",
		Check: func(ctx context.Context) error {
			if s == nil {
				return nil
			}
			if err := s.Ping(ctx); err != nil {
				return errors.Join(errors.New("profile store unreachable"), err)
			}
			return nil
		},
	}
}
