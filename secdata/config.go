package secdata

import (
	"errors"
	"fmt"
	"strings"

	"github.com/phcoder/vboot/tpm2"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// Write authorization choices for Config.WriteAuth.
const (
	WriteAuthPlatform = "platform"
	WriteAuthOwner    = "owner"
	WriteAuthIndex    = "index"
)

// Default NV indices of the secure data spaces.
const (
	DefaultFirmwareIndex uint32 = 0x01001007
	DefaultKernelIndex   uint32 = 0x01001008
	DefaultFWMPIndex     uint32 = 0x0100100A
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("secdata: invalid config")

// Config locates the secure data spaces and the TPM that holds them.
type Config struct {
	Device        string `yaml:"device" json:"device" mapstructure:"device"`
	UseSimulator  bool   `yaml:"simulator" json:"simulator" mapstructure:"simulator"`
	FirmwareIndex uint32 `yaml:"firmware-index" json:"firmware_index" mapstructure:"firmware-index"`
	KernelIndex   uint32 `yaml:"kernel-index" json:"kernel_index" mapstructure:"kernel-index"`
	FWMPIndex     uint32 `yaml:"fwmp-index" json:"fwmp_index" mapstructure:"fwmp-index"`
	WriteAuth     string `yaml:"write-auth" json:"write_auth" mapstructure:"write-auth"`
	Password      string `yaml:"password" json:"password" mapstructure:"password"`
}

// DefaultConfig returns the standard verified boot layout on the resource
// managed TPM device, written with platform authorization.
func DefaultConfig() Config {
	return Config{
		Device:        "/dev/tpmrm0",
		FirmwareIndex: DefaultFirmwareIndex,
		KernelIndex:   DefaultKernelIndex,
		FWMPIndex:     DefaultFWMPIndex,
		WriteAuth:     WriteAuthPlatform,
	}
}

// Validate checks that every index is an NV index and the write
// authorization is known.
func (c Config) Validate() error {
	seen := make(map[uint32]Space)
	for _, s := range Spaces {
		idx := c.Index(s)
		if !tpm2.IsNVIndex(tpm2.Handle(idx)) {
			return fmt.Errorf("%w: %s index 0x%08x is not an NV index", ErrInvalidConfig, s, idx)
		}
		if prev, ok := seen[idx]; ok {
			return fmt.Errorf("%w: %s and %s share index 0x%08x", ErrInvalidConfig, prev, s, idx)
		}
		seen[idx] = s
	}
	switch c.WriteAuth {
	case WriteAuthPlatform, WriteAuthOwner, WriteAuthIndex:
	default:
		return fmt.Errorf("%w: write-auth %q", ErrInvalidConfig, c.WriteAuth)
	}
	if !c.UseSimulator && c.Device == "" {
		return fmt.Errorf("%w: no device and no simulator", ErrInvalidConfig)
	}
	return nil
}

// Index returns the NV index configured for space.
func (c Config) Index(space Space) uint32 {
	switch space {
	case SpaceFirmware:
		return c.FirmwareIndex
	case SpaceKernel:
		return c.KernelIndex
	case SpaceFWMP:
		return c.FWMPIndex
	}
	return 0
}

// LoadConfig reads a YAML or JSON config file from fs. Keys missing from the
// file take their DefaultConfig value, and VBOOT_* environment variables
// (VBOOT_FIRMWARE_INDEX, ...) override both.
func LoadConfig(fs afero.Fs, path string) (Config, error) {
	v := viper.New()
	v.SetFs(fs)
	v.SetConfigFile(path)
	v.SetEnvPrefix("vboot")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	def := DefaultConfig()
	v.SetDefault("device", def.Device)
	v.SetDefault("simulator", def.UseSimulator)
	v.SetDefault("firmware-index", def.FirmwareIndex)
	v.SetDefault("kernel-index", def.KernelIndex)
	v.SetDefault("fwmp-index", def.FWMPIndex)
	v.SetDefault("write-auth", def.WriteAuth)
	v.SetDefault("password", def.Password)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
