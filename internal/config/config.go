package config

import (
	"encoding/json"
	"errors"
	"net/url"
	"os"
	"strings"

	"github.com/saharix/chatline/internal/util"
)

type Config struct {
	Server  Server  `json:"server"`
	Profile Profile `json:"profile"`
	Viewer  Viewer  `json:"viewer"`
	Paths   Paths   `json:"paths"`
}

type Server struct {
	// REST base, e.g. http://localhost:5000
	APIURL string `json:"api_url"`
	// Socket endpoint, e.g. ws://localhost:5000/socket
	SocketURL string `json:"socket_url"`
	// Bearer token for both surfaces.
	Token string `json:"token"`
}

type Profile struct {
	UserID string `json:"user_id"`
	Label  string `json:"label"`
}

type Viewer struct {
	// Local HTTP API bind address. Empty disables the viewer.
	HTTPAddr string `json:"http_addr"`
}

type Paths struct {
	// DataDir holds the message cache database.
	DataDir string `json:"data_dir"`
}

func Default() Config {
	return Config{
		Server: Server{
			APIURL:    "http://localhost:5000",
			SocketURL: "ws://localhost:5000/socket",
		},
		Viewer: Viewer{
			HTTPAddr: "127.0.0.1:7780",
		},
		Paths: Paths{
			DataDir: "data",
		},
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.APIURL) == "" {
		return errors.New("server.api_url is required")
	}
	if u, err := url.Parse(c.Server.APIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.New("server.api_url must be an http(s) URL")
	}

	if strings.TrimSpace(c.Server.SocketURL) == "" {
		return errors.New("server.socket_url is required")
	}
	if u, err := url.Parse(c.Server.SocketURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return errors.New("server.socket_url must be a ws(s) URL")
	}

	if strings.TrimSpace(c.Profile.UserID) == "" {
		return errors.New("profile.user_id is required")
	}

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir is required")
	}

	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise writes the defaults so the
// user has a file to fill in. Returns (cfg, createdNew, err). A freshly
// created file does not validate (no user_id yet); the caller decides.
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := util.WriteJSONFile(path, cfg); err != nil {
		return Config{}, false, err
	}
	return cfg, true, nil
}
