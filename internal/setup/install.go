package setup

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
)

//go:embed plist.tmpl
var plistTemplateStr string

var plistTemplate = template.Must(template.New("plist").Parse(plistTemplateStr))

const (
	// BinaryName is the name of the installed binary.
	BinaryName = "pinreminder"

	// DefaultInstallDir is where the binary is copied to.
	DefaultInstallDir = "/usr/local/bin"

	// PlistLabel is the launchd job label.
	PlistLabel = "com.github.njoerd114.pinreminder"
)

// Runner executes an external command and returns its combined output.
type Runner func(name string, args ...string) ([]byte, error)

func execRunner(name string, args ...string) ([]byte, error) {
	//nolint:gosec // fixed commands, user-owned paths
	return exec.Command(name, args...).CombinedOutput()
}

// Installer places the daemon under launchd for one user.
type Installer struct {
	HomeDir    string
	InstallDir string
	run        Runner
}

// NewInstaller creates an Installer for homeDir using the default install
// directory and the real launchctl.
func NewInstaller(homeDir string) *Installer {
	return &Installer{HomeDir: homeDir, InstallDir: DefaultInstallDir, run: execRunner}
}

// plistData holds template values for the launchd plist.
type plistData struct {
	Label      string
	BinaryPath string
	LogDir     string
}

// BinaryPath returns the full path to the installed binary.
func (in *Installer) BinaryPath() string {
	return filepath.Join(in.InstallDir, BinaryName)
}

// PlistPath returns the launchd plist destination path.
func (in *Installer) PlistPath() string {
	return filepath.Join(in.HomeDir, "Library", "LaunchAgents", PlistLabel+".plist")
}

// LogDir returns the log directory path.
func (in *Installer) LogDir() string {
	return filepath.Join(in.HomeDir, "Library", "Logs", BinaryName)
}

// DataDirs lists the per-user directories removed by [Installer.Purge].
func (in *Installer) DataDirs() []string {
	return []string{
		filepath.Join(in.HomeDir, ".config", BinaryName),
		filepath.Join(in.HomeDir, ".local", "share", BinaryName),
		in.LogDir(),
	}
}

// InstallBinary copies the running executable into InstallDir, using sudo
// when the directory is not writable by the current user.
func (in *Installer) InstallBinary() error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving current executable path: %w", err)
	}
	self, err = filepath.EvalSymlinks(self)
	if err != nil {
		return fmt.Errorf("resolving executable symlinks: %w", err)
	}

	dest := in.BinaryPath()
	if isWritable(in.InstallDir) {
		return copyFile(self, dest, 0o755)
	}

	//nolint:gosec // sudo is intentional here, the user is prompted by macOS.
	cmd := exec.Command("sudo", "install", "-m", "755", self, dest)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("sudo install to %s: %w", dest, err)
	}
	return nil
}

// WritePlist renders the launchd plist and writes it to ~/Library/LaunchAgents.
func (in *Installer) WritePlist() error {
	var buf bytes.Buffer
	data := plistData{Label: PlistLabel, BinaryPath: in.BinaryPath(), LogDir: in.LogDir()}
	if err := plistTemplate.Execute(&buf, data); err != nil {
		return fmt.Errorf("executing plist template: %w", err)
	}

	dest := in.PlistPath()
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating LaunchAgents directory: %w", err)
	}
	if err := os.WriteFile(dest, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing plist to %s: %w", dest, err)
	}
	return nil
}

// CreateLogDir creates ~/Library/Logs/pinreminder.
func (in *Installer) CreateLogDir() error {
	dir := in.LogDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating log directory %s: %w", dir, err)
	}
	return nil
}

// Load (re)loads the launchd job so the daemon starts immediately.
func (in *Installer) Load() error {
	_ = in.Unload()
	if out, err := in.run("launchctl", "load", in.PlistPath()); err != nil {
		return fmt.Errorf("launchctl load: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

// Unload stops the daemon. A missing plist is not an error.
func (in *Installer) Unload() error {
	plist := in.PlistPath()
	if _, err := os.Stat(plist); os.IsNotExist(err) {
		return nil
	}
	if out, err := in.run("launchctl", "unload", plist); err != nil {
		return fmt.Errorf("launchctl unload: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

// Loaded reports whether the launchd job is currently loaded.
func (in *Installer) Loaded() bool {
	_, err := in.run("launchctl", "list", PlistLabel)
	return err == nil
}

// RemovePlist deletes the launchd plist file.
func (in *Installer) RemovePlist() error {
	plist := in.PlistPath()
	if err := os.Remove(plist); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing plist %s: %w", plist, err)
	}
	return nil
}

// RemoveBinary deletes the installed binary, using sudo if needed.
func (in *Installer) RemoveBinary() error {
	path := in.BinaryPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if isWritable(in.InstallDir) {
		return os.Remove(path)
	}

	//nolint:gosec // sudo is intentional
	cmd := exec.Command("sudo", "rm", "-f", path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// Purge removes config, the state database, and logs.
func (in *Installer) Purge() error {
	for _, dir := range in.DataDirs() {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("removing %s: %w", dir, err)
		}
	}
	return nil
}

// isWritable checks if the given directory is writable by the current user.
func isWritable(dir string) bool {
	f, err := os.CreateTemp(dir, ".pr-probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}

// copyFile copies src to dst with the given permissions.
func copyFile(src, dst string, perm os.FileMode) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}
	if err := os.WriteFile(dst, data, perm); err != nil {
		return fmt.Errorf("writing %s: %w", dst, err)
	}
	return nil
}
