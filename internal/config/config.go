package config

import (
	"flag"
	"github.com/ilyakaznacheev/cleanenv"
	"os"
)

type Config struct {
	Env       string `yaml:"env" env:"ENV" env-default:"local" env-description:"Environment" env-choices:"local,dev,prod"`
	ApiPort   int    `yaml:"api_port" env:"API_PORT" env-default:"2000"`
	ApiHost   string `yaml:"api_host" env:"API_HOST" env-default:"localhost"`
	JwtSecret string `yaml:"jwt_secret" env:"JWT_SECRET" env-default:"bankfeed-api-secret"`
	Postgres  `yaml:"postgres"`
	Truelayer `yaml:"truelayer"`
}

type Postgres struct {
	Host string `yaml:"host" env:"DB_HOST" env-default:"localhost"`
	Port string `yaml:"port" env:"DB_PORT" env-default:"5432"`
	User string `yaml:"user" env:"DB_USER" env-default:"test"`
	Pass string `yaml:"pass" env:"DB_PASSWORD" env-default:"password"`
	Db   string `yaml:"db" env:"DB_NAME" env-default:"test"`
}

type Truelayer struct {
	AuthURL         string `yaml:"auth_url" env:"TRUELAYER_AUTH_URL" env-default:"https://auth.truelayer.com"`
	ApiURL          string `yaml:"api_url" env:"TRUELAYER_API_URL" env-default:"https://api.truelayer.com"`
	ClientID        string `yaml:"client_id" env:"TRUELAYER_CLIENT_ID" env-default:"id"`
	ClientSecret    string `yaml:"client_secret" env:"TRUELAYER_CLIENT_SECRET" env-default:"secret"`
	RedirectURI     string `yaml:"redirect_uri" env:"TRUELAYER_REDIRECT_URI" env-default:"http://localhost:2000/api/v1/bank/auth"`
	SyncConcurrency int    `yaml:"sync_concurrency" env:"TRUELAYER_SYNC_CONCURRENCY" env-default:"8"`
}

func MustLoad() *Config {
	path := fetchConfigPath()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		panic("config file does not exist: " + path)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		panic("Failed to read config" + err.Error())
	}

	return &cfg
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
