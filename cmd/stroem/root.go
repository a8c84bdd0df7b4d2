package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcutil"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/strawpay/stroem-consumerj/channelstore"
	"github.com/strawpay/stroem-consumerj/issuer"
)

var defaultDataDir = btcutil.AppDataDir("stroem", false)

// config is what every command reads after flags, environment and the
// config file have been merged.
type config struct {
	DataDir   string
	DBPath    string
	LogLevel  string
	Timeout   time.Duration
	Proxy     string
	ProxyUser string
	ProxyPass string
}

func (c config) issuerConfig() issuer.Config {
	return issuer.Config{
		SocketTimeout: c.Timeout,
		Proxy:         c.Proxy,
		ProxyUser:     c.ProxyUser,
		ProxyPass:     c.ProxyPass,
	}
}

func (c config) openStore() (*channelstore.Store, error) {
	err := os.MkdirAll(filepath.Dir(c.DBPath), 0700)
	if err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	return channelstore.Open(c.DBPath)
}

// loadConfig merges the persistent flags of cmd with STROEM_ environment
// variables and stroem.yaml in the data dir. Flags set on the command line
// win.
func loadConfig(cmd *cobra.Command) (config, error) {
	v := viper.New()
	v.SetEnvPrefix("STROEM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	err := v.BindPFlags(cmd.Flags())
	if err != nil {
		return config{}, err
	}

	dataDir := v.GetString("datadir")
	v.SetConfigName("stroem")
	v.SetConfigType("yaml")
	v.AddConfigPath(dataDir)
	err = v.ReadInConfig()
	notFound := viper.ConfigFileNotFoundError{}
	if err != nil && !errors.As(err, &notFound) {
		return config{}, fmt.Errorf("reading config: %w", err)
	}

	c := config{
		DataDir:   dataDir,
		DBPath:    v.GetString("db"),
		LogLevel:  v.GetString("loglevel"),
		Timeout:   v.GetDuration("timeout"),
		Proxy:     v.GetString("proxy"),
		ProxyUser: v.GetString("proxyuser"),
		ProxyPass: v.GetString("proxypass"),
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(dataDir, "channels.db")
	}
	err = setLogLevels(c.LogLevel)
	if err != nil {
		return config{}, err
	}
	return c, nil
}

func newRootCmd() *cobra.Command {
	cfg := &config{}
	root := &cobra.Command{
		Use:           "stroem",
		Short:         "Stroem consumer tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			*cfg = c
			return nil
		},
	}

	f := root.PersistentFlags()
	f.String("datadir", defaultDataDir, "Directory holding stroem.yaml and the channel database")
	f.String("db", "", "Channel database (default <datadir>/channels.db)")
	f.String("loglevel", "info", "Log level: trace, debug, info, warn, error, critical, off")
	f.Duration("timeout", issuer.DefaultSocketTimeout, "Socket timeout")
	f.String("proxy", "", "SOCKS5 proxy address")
	f.String("proxyuser", "", "SOCKS5 proxy user")
	f.String("proxypass", "", "SOCKS5 proxy password")

	root.AddCommand(
		probeCmd(cfg),
		keygenCmd(),
		offerCmd(cfg),
		channelsCmd(cfg),
	)
	return root
}
