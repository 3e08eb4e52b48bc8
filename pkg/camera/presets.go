package camera

// Preset names for common configurations
const (
	PresetDefault  = "default"
	Preset720p     = "720p"
	PresetLowPower = "lowpower"
	PresetPortrait = "portrait"
)

// Presets returns all available preset configurations.
func Presets() map[string]Config {
	return map[string]Config{
		PresetDefault:  DefaultConfig(),
		Preset720p:     HD720Config(),
		PresetLowPower: LowPowerConfig(),
		PresetPortrait: PortraitConfig(),
	}
}

// PresetNames returns the list of available preset names.
func PresetNames() []string {
	return []string{
		PresetDefault,
		Preset720p,
		PresetLowPower,
		PresetPortrait,
	}
}

// GetPreset returns a preset config by name, or nil if not found.
func GetPreset(name string) *Config {
	presets := Presets()
	if cfg, ok := presets[name]; ok {
		return &cfg
	}
	return nil
}

// HD720Config returns 720p for drivers seated far from the camera.
func HD720Config() Config {
	cfg := DefaultConfig()
	cfg.Width = 1280
	cfg.Height = 720
	return cfg
}

// LowPowerConfig halves resolution and framerate for battery-powered units.
func LowPowerConfig() Config {
	cfg := DefaultConfig()
	cfg.Width = 320
	cfg.Height = 240
	cfg.Framerate = 8
	cfg.Quality = 70
	return cfg
}

// PortraitConfig is for phones mounted upright, delivering frames rotated 90°.
func PortraitConfig() Config {
	cfg := DefaultConfig()
	cfg.Rotation = 90
	return cfg
}
