package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const validTOML = `
[hardware]
mode = "mock"
outputs_enabled = false

[i2c]
pcf_led_addr = 0x20
pcf_act_addr = 0x21
adc_addr     = 0x48
bus_id       = "i2c1"

[uart]
aqm_port = "/dev/ttyAMA0"
baud     = 9600
fun_port = ""
fun_baud = 115200

[gpio]
collector_ssr = 25
collector_ssr_active_high = true
collector_strip_light = 5
collector_strip_active_high = true
fan_ssr = 24
fan_active_high = true
collector_tools = ["saw", "lathe"]

[adc]
sample_hz = 10.0
consecutive_required = 3

[aqm]
bad_threshold = 35
bad_off_threshold = 30
severe_threshold = 75
filter_window_good = 5
filter_window_bad = 25
filter_window_bad_mult = 5.0
use_cf1 = true
fan_on_when_bad = false
interval_s = 0.8
serial_timeout_s = 2.0

[safety]
pause_fun_on_severe_aqm = false
min_off_lockout_ms = 0

[gates.saw]
adc_channel = 0
on_threshold = 1.00
off_threshold = 0.30
fwd_bit = 4
rev_bit = 5
led_red = 3
led_green = 7

[gates.lathe]
adc_channel = 1
on_threshold = 0.040
off_threshold = 0.025
fwd_bit = 6
rev_bit = 7
led_red = 2
led_green = 6
`

func writeTemp(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadValid(t *testing.T) {
	cfg, err := Load(writeTemp(t, validTOML))
	require.NoError(t, err)
	require.Equal(t, "mock", cfg.Hardware.Mode)
	require.Len(t, cfg.Gates, 2)
	require.Equal(t, uint16(0x48), cfg.I2C.ADCAddr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestValidateRejectsBadHysteresis(t *testing.T) {
	cfg, err := Load(writeTemp(t, validTOML))
	require.NoError(t, err)
	g := cfg.Gates["saw"]
	g.OffThreshold = g.OnThreshold + 1
	cfg.Gates["saw"] = g
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsSharedRelayBit(t *testing.T) {
	cfg, err := Load(writeTemp(t, validTOML))
	require.NoError(t, err)
	g := cfg.Gates["saw"]
	g.RevBit = g.FwdBit
	cfg.Gates["saw"] = g
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg, err := Load(writeTemp(t, validTOML))
	require.NoError(t, err)
	cfg.Hardware.Mode = "bogus"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsDuplicateChannel(t *testing.T) {
	cfg, err := Load(writeTemp(t, validTOML))
	require.NoError(t, err)
	l := cfg.Gates["lathe"]
	l.ADCChannel = cfg.Gates["saw"].ADCChannel
	cfg.Gates["lathe"] = l
	require.Error(t, cfg.Validate())
}
