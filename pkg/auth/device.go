package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"streamgate/pkg/logger"
	"streamgate/pkg/persistence"
	"streamgate/pkg/stream"
)

// Device represents one registered playback device
type Device struct {
	Name             string         `json:"name"`
	Token            string         `json:"token"`
	PreferredQuality stream.Quality `json:"preferred_quality,omitempty"`
}

// DeviceManager handles device storage and token authentication
type DeviceManager struct {
	mu      sync.RWMutex
	devices map[string]*Device // token -> Device
	store   *persistence.Store
}

var globalDeviceManager *DeviceManager
var deviceManagerMu sync.Mutex

// GetDeviceManager returns the global device manager
func GetDeviceManager(dataDir string) (*DeviceManager, error) {
	deviceManagerMu.Lock()
	defer deviceManagerMu.Unlock()

	if globalDeviceManager != nil {
		return globalDeviceManager, nil
	}

	store, err := persistence.Open(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	dm := &DeviceManager{
		devices: make(map[string]*Device),
		store:   store,
	}

	if err := dm.load(); err != nil {
		return nil, fmt.Errorf("failed to load devices: %w", err)
	}

	globalDeviceManager = dm
	return dm, nil
}

func (dm *DeviceManager) load() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	var devices map[string]*Device
	found, err := dm.store.Get("devices", &devices)
	if err != nil {
		return err
	}

	if found && devices != nil {
		dm.devices = devices
	}
	return nil
}

func (dm *DeviceManager) save() error {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.store.Put("devices", dm.devices)
}

// CreateDevice registers a new device and returns it with a fresh token
func (dm *DeviceManager) CreateDevice(name string, preferred stream.Quality) (*Device, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	device := &Device{
		Name:             name,
		Token:            token,
		PreferredQuality: preferred,
	}

	dm.mu.Lock()
	dm.devices[token] = device
	dm.mu.Unlock()

	if err := dm.save(); err != nil {
		return nil, fmt.Errorf("failed to save devices: %w", err)
	}

	logger.Info("Registered device", "name", name)
	return device, nil
}

// Seed registers a pre-provisioned device with a fixed token, typically
// from configuration. An already registered token keeps its stored entry.
func (dm *DeviceManager) Seed(name, token string) {
	if token == "" {
		return
	}

	dm.mu.Lock()
	_, exists := dm.devices[token]
	if !exists {
		dm.devices[token] = &Device{Name: name, Token: token}
	}
	dm.mu.Unlock()

	if !exists {
		if err := dm.save(); err != nil {
			logger.Warn("Failed to persist seeded device", "name", name, "err", err)
		}
	}
}

// Count returns the number of registered devices
func (dm *DeviceManager) Count() int {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return len(dm.devices)
}

// AuthenticateToken looks up the device owning a token
func (dm *DeviceManager) AuthenticateToken(token string) (*Device, error) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	device, ok := dm.devices[token]
	if !ok {
		return nil, fmt.Errorf("invalid token")
	}
	return device, nil
}

// RevokeDevice removes a device by token
func (dm *DeviceManager) RevokeDevice(token string) error {
	dm.mu.Lock()
	_, ok := dm.devices[token]
	delete(dm.devices, token)
	dm.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown device")
	}
	return dm.save()
}

// ListDevices returns all registered devices
func (dm *DeviceManager) ListDevices() []*Device {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	out := make([]*Device, 0, len(dm.devices))
	for _, d := range dm.devices {
		out = append(out, d)
	}
	return out
}

func newToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
