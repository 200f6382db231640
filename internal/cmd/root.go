package cmd

import (
	"fmt"

	"github.com/nomadai/rag-gateway/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	Version   string
	BuildTime string
	cfgFile   string
)

var rootCmd = &cobra.Command{
	Use:   "raggateway",
	Short: "API-key gated, rate limited gateway in front of a RAG QA service",
	Long: `raggateway exposes an ask_rag tool backed by an external question answering
service. Callers authenticate with an API key, each key gets a sliding window
request quota and administrators can read lifetime usage per key.`,
	RunE: runServe, // 默认启动服务器
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// 全局标志
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("log-file", "logs/raggateway.log", "log file")

	// 服务器标志（直接在root命令使用）
	addServerFlags(rootCmd)

	viper.BindPFlag("logging.output", rootCmd.PersistentFlags().Lookup("log-file"))
}

func addServerFlags(c *cobra.Command) {
	c.Flags().String("host", "0.0.0.0", "server host")
	c.Flags().Int("port", 7860, "server port")
	c.Flags().String("mode", "release", "server mode (debug/release/test)")
}

// bindServerFlags binds the flags of the command actually being run
func bindServerFlags(c *cobra.Command) {
	viper.BindPFlag("server.host", c.Flags().Lookup("host"))
	viper.BindPFlag("server.port", c.Flags().Lookup("port"))
	viper.BindPFlag("server.mode", c.Flags().Lookup("mode"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.raggateway")
	}

	viper.SetDefault("throttle.enabled", true)
	viper.AutomaticEnv()
	config.BindEnv(viper.GetViper())

	// 配置文件是可选的，环境变量即可完成配置
	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}
