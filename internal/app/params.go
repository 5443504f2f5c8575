package app

import (
	"github.com/matheus3301/handychat/internal/config"
	"github.com/matheus3301/handychat/internal/session"
)

// ResolveParams picks the profile from the flag, the config file or the
// default, and validates it.
func ResolveParams(profileFlag, configPath, command string) (Params, error) {
	if configPath == "" {
		configPath = session.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return Params{}, err
	}
	profile := session.Resolve(profileFlag, cfg)
	if err := session.ValidateName(profile); err != nil {
		return Params{}, err
	}
	return Params{Profile: profile, ConfigPath: configPath, Command: command}, nil
}
