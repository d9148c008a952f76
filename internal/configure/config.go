package configure

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func checkErr(err error) {
	if err != nil {
		zap.S().Fatalw("config",
			"error", err,
		)
	}
}

func New() *Config {
	initLogging("info")

	config := viper.New()

	// Default config
	b, _ := json.Marshal(Config{
		ConfigFile: "config.yaml",
	})
	tmp := viper.New()
	defaultConfig := bytes.NewReader(b)

	tmp.SetConfigType("json")
	checkErr(tmp.ReadConfig(defaultConfig))
	checkErr(config.MergeConfigMap(viper.AllSettings()))

	pflag.String("config", "config.yaml", "Config file location")
	pflag.Bool("noheader", false, "Disable the startup header")

	pflag.Parse()
	checkErr(config.BindPFlags(pflag.CommandLine))

	// File
	config.SetConfigFile(config.GetString("config"))
	config.AddConfigPath(".")

	if err := config.ReadInConfig(); err == nil {
		checkErr(config.MergeInConfig())
	}

	bindEnvs(config, Config{})

	// Environment
	config.AutomaticEnv()
	config.SetEnvPrefix("RELAY")
	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AllowEmptyEnv(true)

	c := &Config{}
	checkErr(config.Unmarshal(&c))

	c.setDefaults()

	initLogging(c.Level)

	return c
}

func bindEnvs(config *viper.Viper, iface interface{}, parts ...string) {
	ifv := reflect.ValueOf(iface)
	ift := reflect.TypeOf(iface)

	for i := 0; i < ift.NumField(); i++ {
		v := ifv.Field(i)
		t := ift.Field(i)

		tv, ok := t.Tag.Lookup("mapstructure")
		if !ok {
			continue
		}

		switch v.Kind() {
		case reflect.Struct:
			bindEnvs(config, v.Interface(), append(parts, tv)...)
		default:
			_ = config.BindEnv(strings.Join(append(parts, tv), "."))
		}
	}
}

type Config struct {
	Level      string `mapstructure:"level" json:"level"`
	ConfigFile string `mapstructure:"config" json:"config"`
	NoHeader   bool   `mapstructure:"noheader" json:"noheader"`

	K8S struct {
		NodeName string `mapstructure:"node_name" json:"node_name"`
		PodName  string `mapstructure:"pod_name" json:"pod_name"`
	} `mapstructure:"k8s" json:"k8s"`

	Http struct {
		Addr          string `mapstructure:"addr" json:"addr"`
		Port          int    `mapstructure:"port" json:"port"`
		Type          string `mapstructure:"type" json:"type"`
		VersionSuffix string `mapstructure:"version_suffix" json:"version_suffix"`
	} `mapstructure:"http" json:"http"`

	Redis struct {
		Username   string   `mapstructure:"username" json:"username"`
		Password   string   `mapstructure:"password" json:"password"`
		Database   int      `mapstructure:"db" json:"db"`
		Sentinel   bool     `mapstructure:"sentinel" json:"sentinel"`
		Addresses  []string `mapstructure:"addresses" json:"addresses"`
		MasterName string   `mapstructure:"master_name" json:"master_name"`
	} `mapstructure:"redis" json:"redis"`

	Mongo struct {
		URI    string `mapstructure:"uri" json:"uri"`
		DB     string `mapstructure:"db" json:"db"`
		Direct bool   `mapstructure:"direct" json:"direct"`
	} `mapstructure:"mongo" json:"mongo"`

	JWT struct {
		Secret string `mapstructure:"secret" json:"secret"`
		Domain string `mapstructure:"domain" json:"domain"`
		Secure bool   `mapstructure:"secure" json:"secure"`
	} `mapstructure:"jwt" json:"jwt"`

	Session struct {
		// HeartbeatInterval is the cadence of heartbeat and clients_update
		// frames on an open stream.
		HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" json:"heartbeat_interval"`
		// ClientTimeout closes a session whose last activity is older than
		// this, checked on each heartbeat tick.
		ClientTimeout time.Duration `mapstructure:"client_timeout" json:"client_timeout"`
		// DeliveryBuffer is the per-session inbound relay queue size.
		DeliveryBuffer int `mapstructure:"delivery_buffer" json:"delivery_buffer"`
	} `mapstructure:"session" json:"session"`

	Presence struct {
		// SnapshotTTL bounds how long a presence snapshot may be served
		// from cache before hitting redis again.
		SnapshotTTL time.Duration `mapstructure:"snapshot_ttl" json:"snapshot_ttl"`
	} `mapstructure:"presence" json:"presence"`

	Limits struct {
		PublishCount  int64         `mapstructure:"publish_count" json:"publish_count"`
		PublishWindow time.Duration `mapstructure:"publish_window" json:"publish_window"`
	} `mapstructure:"limits" json:"limits"`

	Health struct {
		Enabled bool   `mapstructure:"enabled" json:"enabled"`
		Bind    string `mapstructure:"bind" json:"bind"`
	} `mapstructure:"health" json:"health"`

	Monitoring struct {
		Enabled bool   `mapstructure:"enabled" json:"enabled"`
		Bind    string `mapstructure:"bind" json:"bind"`
		Labels  Labels `mapstructure:"labels" json:"labels"`
	} `mapstructure:"monitoring" json:"monitoring"`
}

func (c *Config) setDefaults() {
	if c.Http.Type == "" {
		c.Http.Type = "tcp"
	}

	if c.Session.HeartbeatInterval <= 0 {
		c.Session.HeartbeatInterval = time.Second * 50
	}

	if c.Session.ClientTimeout <= 0 {
		c.Session.ClientTimeout = time.Minute * 5
	}

	if c.Session.DeliveryBuffer <= 0 {
		c.Session.DeliveryBuffer = 64
	}

	if c.Presence.SnapshotTTL <= 0 {
		c.Presence.SnapshotTTL = time.Second * 5
	}

	if c.Limits.PublishCount <= 0 {
		c.Limits.PublishCount = 60
	}

	if c.Limits.PublishWindow <= 0 {
		c.Limits.PublishWindow = time.Minute
	}
}

type Labels []struct {
	Key   string `mapstructure:"key" json:"key"`
	Value string `mapstructure:"value" json:"value"`
}

func (l Labels) ToPrometheus() prometheus.Labels {
	mp := prometheus.Labels{}

	for _, v := range l {
		mp[v.Key] = v.Value
	}

	return mp
}
