package sensorboard

import (
	"errors"
	"fmt"
	"time"

	"github.com/Station-Manager/types"
)

// handleOpenError closes the port and joins any error from closing with the
// original error. Assumes the mutex is already held by the caller.
func (p *Service) handleOpenError(err error) error {
	e := p.closeWithoutLock()
	if e != nil {
		err = errors.Join(err, e)
	}
	return err
}

// closeWithoutLock performs close operations without acquiring the mutex.
// Assumes the mutex is already held by the caller.
func (p *Service) closeWithoutLock() error {
	h := p.handle
	p.handle = nil
	p.isOpen.Store(false)
	if p.source != nil {
		p.source.release()
		p.source = nil
	}
	if h != nil {
		return h.Close()
	}
	return nil
}

// serialPortConfig resolves the serial configuration for the rig this
// service is bound to.
func (p *Service) serialPortConfig() (*types.SerialConfig, error) {
	required, _ := p.ConfigService.RequiredConfigs()
	rigConfig, err := p.ConfigService.RigConfigByID(required.DefaultRigID)
	if err != nil {
		return nil, fmt.Errorf("serialPortConfig: config not found for rig '%d': %v", required.DefaultRigID, err)
	}
	return &rigConfig.SerialConfig, nil
}

// getWriteTimeout safely reads the write timeout without copying the config.
func (p *Service) getWriteTimeout() time.Duration {
	p.configMu.RLock()
	defer p.configMu.RUnlock()
	if p.Config != nil {
		return p.Config.WriteTimeout
	}
	return 0
}

// getPortName safely reads the port name without copying the config.
func (p *Service) getPortName() string {
	p.configMu.RLock()
	defer p.configMu.RUnlock()
	if p.Config != nil {
		return p.Config.PortName
	}
	return ""
}

// isConfigNil safely checks if config is nil without copying.
func (p *Service) isConfigNil() bool {
	p.configMu.RLock()
	defer p.configMu.RUnlock()
	return p.Config == nil
}

// withConfigLock executes a function with read-only access to the config.
func (p *Service) withConfigLock(fn func(*types.SerialConfig) error) error {
	p.configMu.RLock()
	defer p.configMu.RUnlock()
	if p.Config == nil {
		return errors.New("serial config has not been set/injected")
	}
	return fn(p.Config)
}

// getConfigSafeCopy returns a deep copy of the current config so callers
// never race on field access.
func (p *Service) getConfigSafeCopy() *types.SerialConfig {
	p.configMu.RLock()
	defer p.configMu.RUnlock()

	if p.Config == nil {
		return nil
	}

	configCopy := &types.SerialConfig{
		PortName:     p.Config.PortName,
		BaudRate:     p.Config.BaudRate,
		DataBits:     p.Config.DataBits,
		Parity:       p.Config.Parity,
		StopBits:     p.Config.StopBits,
		ReadTimeout:  p.Config.ReadTimeout,
		WriteTimeout: p.Config.WriteTimeout,
		DTR:          p.Config.DTR,
		RTS:          p.Config.RTS,
	}

	return configCopy
}

// setConfigSafe sets the config with proper synchronization.
func (p *Service) setConfigSafe(config *types.SerialConfig) {
	p.configMu.Lock()
	defer p.configMu.Unlock()
	p.Config = config
}
