// Package registry is the durable mapping of known client devices to their
// display name and current profile.
//
// The file format is a JSON object keyed by IPv4 address:
//
//	{
//	    "192.168.178.23": {
//	        "name": "laptop",
//	        "profile": "VPN"
//	    }
//	}
//
// Entries keep the order in which they appear in the file, and new devices
// are appended, so saving and reloading never reshuffles the file.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
)

// Device is one registered client.
type Device struct {
	IP      string `json:"-"`
	Name    string `json:"name"`
	Profile string `json:"profile"`
}

// Registry holds devices in insertion order. It is not safe for concurrent
// use.
type Registry struct {
	path string

	// order holds every key of the file, including entries kept in raw.
	order   []string
	devices map[string]Device

	// raw holds entries that are not usable devices (a key that is not an
	// IPv4 address, or a value that is not an object). They are written
	// back unchanged so that saving never drops part of the file.
	raw map[string]json.RawMessage

	// corrupt is set when the file on disk could not be parsed. The next
	// Save moves that file aside instead of overwriting it.
	corrupt bool
}

// New returns an empty registry that saves to path.
func New(path string) *Registry {
	return &Registry{
		path:    path,
		devices: make(map[string]Device),
		raw:     make(map[string]json.RawMessage),
	}
}

// Load reads the registry at path. A missing file is created containing an
// empty object. When the file cannot be read or parsed, Load returns an
// empty registry together with the error so that callers can log it and
// carry on. Entries that are not usable devices are skipped with a warning
// and written back unchanged by Save.
func Load(path string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "registry")
	r := New(path)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Info("device file not found, creating it", "path", path)
		if err := r.Save(); err != nil {
			return r, err
		}
		return r, nil
	}
	if err != nil {
		return r, fmt.Errorf("reading device file %s: %w", path, err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return r, nil
	}

	if !gjson.ValidBytes(data) {
		r.corrupt = true
		return r, fmt.Errorf("parsing device file %s: invalid JSON", path)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		r.corrupt = true
		return r, fmt.Errorf("parsing device file %s: top level is not an object", path)
	}

	root.ForEach(func(key, value gjson.Result) bool {
		ip := key.String()
		if !isIPv4(ip) {
			log.Warn("skipping device entry with invalid IPv4 key", "key", ip)
			r.keepRaw(ip, value.Raw)
			return true
		}
		if !value.IsObject() {
			log.Warn("skipping malformed device entry", "ip", ip)
			r.keepRaw(ip, value.Raw)
			return true
		}
		d := Device{
			IP:      ip,
			Name:    value.Get("name").String(),
			Profile: value.Get("profile").String(),
		}
		if d.Name == "" {
			d.Name = ip
		}
		r.Put(d)
		return true
	})

	log.Debug("device file loaded", "path", path, "devices", r.Len())
	return r, nil
}

// Path returns the file the registry is saved to.
func (r *Registry) Path() string {
	return r.path
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	return len(r.devices)
}

// Get returns the device registered under ip.
func (r *Registry) Get(ip string) (Device, bool) {
	d, ok := r.devices[ip]
	return d, ok
}

// Put inserts d or replaces the device with the same IP. A replaced device
// keeps its position.
func (r *Registry) Put(d Device) {
	_, known := r.devices[d.IP]
	_, kept := r.raw[d.IP]
	if !known && !kept {
		r.order = append(r.order, d.IP)
	}
	delete(r.raw, d.IP)
	r.devices[d.IP] = d
}

// keepRaw records an entry that is not a usable device.
func (r *Registry) keepRaw(key, value string) {
	if _, ok := r.devices[key]; ok {
		return
	}
	if _, ok := r.raw[key]; !ok {
		r.order = append(r.order, key)
	}
	r.raw[key] = json.RawMessage(value)
}

// Devices returns a copy of all devices in registry order.
func (r *Registry) Devices() []Device {
	out := make([]Device, 0, len(r.devices))
	for _, ip := range r.order {
		if d, ok := r.devices[ip]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Save rewrites the whole file. The new content is written to a temporary
// file in the same directory and renamed over the old one, so a crash
// mid-write leaves the previous version intact.
func (r *Registry) Save() error {
	data, err := r.MarshalJSON()
	if err != nil {
		return err
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating device file directory %s: %w", dir, err)
	}

	if r.corrupt {
		backup := r.path + ".corrupt"
		if err := os.Rename(r.path, backup); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("moving unreadable device file aside: %w", err)
		}
		r.corrupt = false
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary device file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing device file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing device file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing device file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("setting device file permissions: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("replacing device file %s: %w", r.path, err)
	}
	return nil
}

// MarshalJSON encodes the registry as a 4-space indented object in registry
// order. Non-ASCII names are written as-is.
func (r *Registry) MarshalJSON() ([]byte, error) {
	if len(r.order) == 0 {
		return []byte("{}"), nil
	}

	var buf bytes.Buffer
	buf.WriteString("{\n")
	for i, ip := range r.order {
		key, err := encode(ip, "")
		if err != nil {
			return nil, err
		}
		var val []byte
		if raw, ok := r.raw[ip]; ok {
			val, err = indentRaw(raw, "    ")
		} else {
			val, err = encode(r.devices[ip], "    ")
		}
		if err != nil {
			return nil, err
		}

		buf.WriteString("    ")
		buf.Write(key)
		buf.WriteString(": ")
		buf.Write(val)
		if i < len(r.order)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// encode marshals v without HTML escaping, indenting nested lines by prefix.
func encode(v any, prefix string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent(prefix, "    ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encoding device file: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// indentRaw re-indents a kept entry to match the rest of the file.
func indentRaw(raw json.RawMessage, prefix string) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, prefix, "    "); err != nil {
		return nil, fmt.Errorf("encoding device file: %w", err)
	}
	return buf.Bytes(), nil
}

func isIPv4(s string) bool {
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil && !strings.Contains(s, ":")
}
