package core

import (
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Env     string // DEV (local; default), TEST, QA, PROD
	AppName string
	Build   string
	Debug   bool

	API struct {
		URL            string
		RequestTimeout time.Duration
	}

	Camera struct {
		Dir           string
		FrameInterval time.Duration
		FrameMaxWidth int
		JPEGQuality   int
	}

	CredentialsFile  string
	KioskAddress     string
	RollbarToken     string
	SendgridAPIKey   string
	DefaultFromEmail mail.Address
}

// WebsocketURL derives the live attendance feed endpoint from the REST base URL.
func (c *Config) WebsocketURL() string {
	u := strings.TrimRight(c.API.URL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/attendance/ws"
}

func NewConfig() *Config {
	conf := viper.New()

	// defaults
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("debug", true)
	conf.SetDefault("appName", "Rollcall")
	conf.SetDefault("build", "dev")
	conf.SetDefault("apiURL", "http://localhost:8000/api")
	conf.SetDefault("requestTimeout", 15*time.Second)
	conf.SetDefault("credentialsFile", defaultCredentialsFile())
	conf.SetDefault("cameraDir", "camera")
	conf.SetDefault("frameInterval", 200*time.Millisecond)
	conf.SetDefault("frameMaxWidth", 640)
	conf.SetDefault("jpegQuality", 70)
	conf.SetDefault("kioskAddress", ":8090")
	conf.SetDefault("rollbarToken", "")
	conf.SetDefault("sendgridAPIKey", "")
	conf.SetDefault("defaultFromEmail", "noreply@localhost")

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}
	conf.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	c := &Config{
		Env:             env,
		AppName:         conf.GetString("appName"),
		Build:           conf.GetString("build"),
		Debug:           conf.GetBool("debug"),
		CredentialsFile: conf.GetString("credentialsFile"),
		KioskAddress:    conf.GetString("kioskAddress"),
		RollbarToken:    conf.GetString("rollbarToken"),
		SendgridAPIKey:  conf.GetString("sendgridAPIKey"),
	}
	c.API.URL = strings.TrimRight(conf.GetString("apiURL"), "/")
	c.API.RequestTimeout = conf.GetDuration("requestTimeout")
	c.Camera.Dir = conf.GetString("cameraDir")
	c.Camera.FrameInterval = conf.GetDuration("frameInterval")
	c.Camera.FrameMaxWidth = conf.GetInt("frameMaxWidth")
	c.Camera.JPEGQuality = conf.GetInt("jpegQuality")

	from, err := mail.ParseAddress(conf.GetString("defaultFromEmail"))
	if err != nil {
		log.Fatalf("config.defaultFromEmail: %v", err)
	}
	c.DefaultFromEmail = *from
	return c
}

func defaultCredentialsFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "rollcall", "credentials.json")
}
