//go:build linux && !tinygo

package pwm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Sysfs drives a hardware PWM channel via /sys/class/pwm.
//
// On Raspberry Pi the channel has to be exposed first, typically with
// `dtoverlay=pwm` or `dtoverlay=pwm-2chan` in config.txt.
type Sysfs struct {
	chipPath string // /sys/class/pwm/pwmchipN
	pwmPath  string // /sys/class/pwm/pwmchipN/pwmM

	periodNS uint64
	max      uint32
	enabled  bool
}

var sysfsBase = "/sys/class/pwm"

// exportWait bounds how long we wait for the kernel to create the channel
// directory after export, and how long writes retry while udev fixes permissions.
var (
	exportWait = 500 * time.Millisecond
	writeWait  = 2 * time.Second
)

var writeFn = writeOnce

// OpenSysfs exports and configures the channel. The channel is left enabled
// at duty 0.
func OpenSysfs(cfg Config) (*Sysfs, error) {
	max, err := MaxDutyForBits(cfg.ResolutionBits)
	if err != nil {
		return nil, err
	}
	if cfg.FrequencyHz <= 0 {
		return nil, fmt.Errorf("pwm: invalid frequency %d", cfg.FrequencyHz)
	}
	if cfg.Channel < 0 {
		return nil, fmt.Errorf("pwm: invalid channel %d", cfg.Channel)
	}

	chipPath, err := findChip(cfg.Chip, cfg.Channel)
	if err != nil {
		return nil, err
	}

	d := &Sysfs{
		chipPath: chipPath,
		pwmPath:  filepath.Join(chipPath, fmt.Sprintf("pwm%d", cfg.Channel)),
		periodNS: uint64(time.Second) / uint64(cfg.FrequencyHz),
		max:      max,
	}
	if d.periodNS == 0 {
		d.periodNS = 1
	}

	if err := d.ensureExported(cfg.Channel); err != nil {
		return nil, err
	}

	// Disable before changing period/duty (common sysfs requirement). The
	// duty must not exceed the period at any point, so zero it first.
	_ = d.writeBool("enable", false)
	_ = d.writeUint("duty_cycle", 0)
	if err := d.writeUint("period", d.periodNS); err != nil {
		return nil, fmt.Errorf("pwm: set period: %w", err)
	}
	if err := d.writeBool("enable", true); err != nil {
		return nil, fmt.Errorf("pwm: enable: %w", err)
	}
	d.enabled = true
	return d, nil
}

func findChip(chip, channel int) (string, error) {
	if chip >= 0 {
		p := filepath.Join(sysfsBase, fmt.Sprintf("pwmchip%d", chip))
		n, err := readInt(filepath.Join(p, "npwm"))
		if err != nil {
			return "", fmt.Errorf("pwm: read %s: %w", p, err)
		}
		if channel >= n {
			return "", fmt.Errorf("pwm: pwmchip%d has %d channels, want channel %d", chip, n, channel)
		}
		return p, nil
	}

	entries, err := os.ReadDir(sysfsBase)
	if err != nil {
		return "", fmt.Errorf("pwm: read %s: %w", sysfsBase, err)
	}

	// In sysfs, pwmchipN entries are commonly symlinks, not directories.
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "pwmchip") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		p := filepath.Join(sysfsBase, name)
		n, err := readInt(filepath.Join(p, "npwm"))
		if err != nil || channel >= n {
			continue
		}
		return p, nil
	}
	return "", fmt.Errorf("pwm: no sysfs pwmchip with channel %d found (is the pwm overlay enabled?)", channel)
}

func (d *Sysfs) ensureExported(channel int) error {
	if _, err := os.Stat(d.pwmPath); err == nil {
		return nil
	}
	if err := writeSysfs(filepath.Join(d.chipPath, "export"), strconv.Itoa(channel)); err != nil {
		// If already exported by someone else, ignore.
		if _, statErr := os.Stat(d.pwmPath); statErr == nil {
			return nil
		}
		return fmt.Errorf("pwm: export channel %d: %w", channel, err)
	}

	deadline := time.Now().Add(exportWait)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(d.pwmPath); err == nil {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := os.Stat(d.pwmPath); err != nil {
		return fmt.Errorf("pwm: channel path not created after export: %w", err)
	}
	return nil
}

// SetDuty writes duty as a fraction of MaxDuty of the period.
func (d *Sysfs) SetDuty(duty uint32) error {
	if err := checkRange(duty, d.max); err != nil {
		return err
	}
	ns := d.periodNS * uint64(duty) / uint64(d.max)
	if err := d.writeUint("duty_cycle", ns); err != nil {
		return fmt.Errorf("pwm: set duty: %w", err)
	}
	if !d.enabled {
		if err := d.writeBool("enable", true); err != nil {
			return fmt.Errorf("pwm: enable: %w", err)
		}
		d.enabled = true
	}
	return nil
}

// MaxDuty returns the largest duty value for the configured resolution.
func (d *Sysfs) MaxDuty() uint32 {
	return d.max
}

// Close turns the LED off and disables the channel. The channel stays
// exported so a restart does not race udev again.
func (d *Sysfs) Close() error {
	err1 := d.writeUint("duty_cycle", 0)
	err2 := d.writeBool("enable", false)
	d.enabled = false
	return errors.Join(err1, err2)
}

func (d *Sysfs) writeUint(name string, v uint64) error {
	return writeSysfs(filepath.Join(d.pwmPath, name), strconv.FormatUint(v, 10))
}

func (d *Sysfs) writeBool(name string, v bool) error {
	val := "0"
	if v {
		val = "1"
	}
	return writeSysfs(filepath.Join(d.pwmPath, name), val)
}

// writeSysfs opens with O_WRONLY only: some sysfs attributes reject
// truncation flags. Right after export there is a short window where open()
// fails with EACCES or ENOENT until udev settles, so those are retried.
func writeSysfs(path string, value string) error {
	deadline := time.Now().Add(writeWait)
	for {
		err := writeFn(path, value)
		if err == nil {
			return nil
		}
		if time.Now().Before(deadline) && isRetryableSysfsErr(err) {
			time.Sleep(25 * time.Millisecond)
			continue
		}
		return err
	}
}

func writeOnce(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(value)
	cerr := f.Close()
	return errors.Join(werr, cerr)
}

func isRetryableSysfsErr(err error) bool {
	return os.IsPermission(err) || os.IsNotExist(err) || errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.ENOENT)
}

func readInt(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, fmt.Errorf("%s: empty", path)
	}
	return strconv.Atoi(s)
}
