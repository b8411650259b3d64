package config

import (
	"github.com/spf13/viper"

	"github.com/apk-classify/apk-classify-go/internal/decompiler"
	"github.com/apk-classify/apk-classify-go/internal/engine"
)

type Config struct {
	Server         ServerConfig      `mapstructure:"server"`
	Database       DatabaseConfig    `mapstructure:"database"`
	RabbitMQ       RabbitMQConfig    `mapstructure:"rabbitmq"`
	Worker         WorkerConfig      `mapstructure:"worker"`
	Log            LogConfig         `mapstructure:"log"`
	Classification engine.Config     `mapstructure:"classification"`
	Decompiler     decompiler.Config `mapstructure:"decompiler"`
	APKDir         string            `mapstructure:"apk_dir"`    // 待分析APK目录 (watcher监听)
	ResultDir      string            `mapstructure:"result_dir"` // 报告落盘目录
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release
}

type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // mysql, sqlite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"db_name"`
}

type RabbitMQConfig struct {
	Enabled  bool   `mapstructure:"enabled"` // 关闭时任务只走内存队列
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	VHost    string `mapstructure:"vhost"`
	Queue    string `mapstructure:"queue"`
}

type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"` // Worker 数量
	QueueSize   int `mapstructure:"queue_size"`  // 任务队列大小
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	// 环境变量覆盖（支持嵌套配置）
	viper.AutomaticEnv()

	// 绑定环境变量到嵌套配置路径
	// RabbitMQ
	viper.BindEnv("rabbitmq.host", "RABBITMQ_HOST")
	viper.BindEnv("rabbitmq.port", "RABBITMQ_PORT")
	viper.BindEnv("rabbitmq.user", "RABBITMQ_USER")
	viper.BindEnv("rabbitmq.password", "RABBITMQ_PASS")

	// Database
	viper.BindEnv("database.host", "MYSQL_HOST")
	viper.BindEnv("database.port", "MYSQL_PORT")
	viper.BindEnv("database.user", "MYSQL_USER")
	viper.BindEnv("database.password", "MYSQL_PASS")
	viper.BindEnv("database.db_name", "MYSQL_DB")

	// 目录
	viper.BindEnv("apk_dir", "APK_DIR")
	viper.BindEnv("result_dir", "RESULT_DIR")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	// 分类策略未配置时使用默认值
	cfg := Config{
		Classification: engine.DefaultConfig(),
		Decompiler:     decompiler.DefaultConfig(),
	}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
