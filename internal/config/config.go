package config

import (
	"fmt"

	"escrowpay/pkg/errs"

	"github.com/spf13/viper"
)

// Config 全局配置结构
//
// 【注意】配置在 main 里加载一次后显式注入到各组件，
// 不提供包级全局变量，避免组件隐式依赖环境状态。
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Provider ProviderConfig `mapstructure:"provider"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	SettlementResult string `mapstructure:"settlement_result"`
	WithdrawalResult string `mapstructure:"withdrawal_result"`
}

// ProviderConfig 外部支付渠道配置
type ProviderConfig struct {
	Name           string `mapstructure:"name"`
	BaseURL        string `mapstructure:"base_url"`
	AccessToken    string `mapstructure:"access_token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// BusinessConfig 结算业务参数
type BusinessConfig struct {
	FeePercent        float64 `mapstructure:"fee_percent"`         // 平台抽成百分比
	AutoReleaseDays   int     `mapstructure:"auto_release_days"`   // 托管自动放款天数
	WithdrawalMin     int64   `mapstructure:"withdrawal_min"`      // 单笔最低提现（分）
	WithdrawalMax     int64   `mapstructure:"withdrawal_max"`      // 单笔最高提现（分）
	WithdrawalFee     int64   `mapstructure:"withdrawal_fee"`      // 提现手续费（分，固定额）
	ProcessingTimeout int     `mapstructure:"processing_timeout"`  // 处理中交易对账阈值（分钟）
	MaxRetryCount     int     `mapstructure:"max_retry_count"`
}

// LoadConfig 加载并校验配置文件
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	applyDefaults(&config.Business)
	if err := validateBusiness(&config.Business); err != nil {
		return nil, err
	}

	return config, nil
}

func applyDefaults(b *BusinessConfig) {
	if b.FeePercent == 0 {
		b.FeePercent = 5
	}
	if b.AutoReleaseDays == 0 {
		b.AutoReleaseDays = 7
	}
	if b.WithdrawalMin == 0 {
		b.WithdrawalMin = 1000 // 10元
	}
	if b.WithdrawalMax == 0 {
		b.WithdrawalMax = 10000000 // 10万元
	}
	if b.ProcessingTimeout == 0 {
		b.ProcessingTimeout = 30
	}
	if b.MaxRetryCount == 0 {
		b.MaxRetryCount = 5
	}
}

func validateBusiness(b *BusinessConfig) error {
	if b.FeePercent < 0 || b.FeePercent >= 100 {
		return errs.Wrap(errs.ErrConfiguration, "fee_percent 必须在 [0,100) 之间: %v", b.FeePercent)
	}
	if b.AutoReleaseDays < 0 {
		return errs.Wrap(errs.ErrConfiguration, "auto_release_days 不能为负数: %d", b.AutoReleaseDays)
	}
	if b.WithdrawalMin < 0 || b.WithdrawalMax < b.WithdrawalMin {
		return errs.Wrap(errs.ErrConfiguration, "提现上下限不合法: min=%d max=%d", b.WithdrawalMin, b.WithdrawalMax)
	}
	if b.WithdrawalFee < 0 || b.WithdrawalFee >= b.WithdrawalMin {
		return errs.Wrap(errs.ErrConfiguration, "withdrawal_fee 不合法: %d", b.WithdrawalFee)
	}
	return nil
}
