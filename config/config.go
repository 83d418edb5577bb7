// Copyright (c) 2025 DHT Solution
//
// Licensed under the MIT License. See LICENSE for details.

package config

import (
	"log"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// SIPConfig holds signaling-side settings.
type SIPConfig struct {
	LocalIP    string `mapstructure:"local_ip" validate:"required,ip"`
	LocalPort  int    `mapstructure:"local_port" validate:"required,min=1,max=65535"`
	ServerIP   string `mapstructure:"server_ip" validate:"required,ip"`
	ServerPort int    `mapstructure:"server_port" validate:"required,min=1,max=65535"`
	// AutoAnswer answers inbound INVITEs immediately. When false the engine
	// waits for a CALL_ANS/CALL_IGNORE command from the control channel.
	AutoAnswer bool `mapstructure:"auto_answer"`
	// InviteTimeout bounds the wait for a final response to an outbound INVITE
	// and for the controller to answer a held inbound ring.
	InviteTimeoutSec int `mapstructure:"invite_timeout_sec" validate:"required,min=1"`
}

// RTPConfig holds media-side settings.
type RTPConfig struct {
	PortRangeStart int `mapstructure:"port_range_start" validate:"required,min=1024,max=65000"`
	PortRangeEnd   int `mapstructure:"port_range_end" validate:"required,min=1024,max=65535"`
	// PortStep is the spacing between consecutive allocations. Each session
	// holds (rtp, rtp+1); the next session starts PortStep higher.
	PortStep int `mapstructure:"port_step" validate:"required,min=2"`
	// UtteranceCapPackets forces an utterance flush after this many 20 ms
	// packets of unbroken speech.
	UtteranceCapPackets int `mapstructure:"utterance_cap_packets" validate:"required,min=1"`
	// UtteranceQueueSize bounds queued utterances awaiting the pipeline.
	UtteranceQueueSize int `mapstructure:"utterance_queue_size" validate:"required,min=1"`
	PlaybackQueueSize  int `mapstructure:"playback_queue_size" validate:"required,min=1"`
}

// WebSocketConfig holds control-channel settings.
type WebSocketConfig struct {
	Host string `mapstructure:"host" validate:"required"`
	Port int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	// EventQueueSize bounds buffered outbound events while the client is slow
	// or disconnected; past the bound the oldest events are dropped.
	EventQueueSize int `mapstructure:"event_queue_size" validate:"required,min=1"`
}

// VADConfig holds voice-activity-detection settings.
type VADConfig struct {
	// ModelPath points to a Silero VAD ONNX model. Empty selects the
	// energy-threshold detector instead.
	ModelPath string  `mapstructure:"model_path"`
	Threshold float32 `mapstructure:"threshold" validate:"required"`
	// HangoverFrames is the number of consecutive same-class frames required
	// before flipping between SILENCE and SPEECH.
	HangoverFrames int `mapstructure:"hangover_frames" validate:"required,min=1"`
}

// BackendConfig selects and parameterizes the STT/LLM/TTS backends.
type BackendConfig struct {
	// Provider selects the response generator: openai, anthropic or local.
	Provider       string        `mapstructure:"provider" validate:"required,oneof=openai anthropic local"`
	OpenAIAPIKey   string        `mapstructure:"openai_api_key"`
	AnthropicKey   string        `mapstructure:"anthropic_api_key"`
	AnthropicModel string        `mapstructure:"anthropic_model"`
	OpenAIModel    string        `mapstructure:"openai_model"`
	LocalBaseURL   string        `mapstructure:"local_base_url"`
	LocalModel     string        `mapstructure:"local_model"`
	SystemPrompt   string        `mapstructure:"system_prompt"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// MaxHistoryTurns bounds the conversation history sent to the generator.
	MaxHistoryTurns int `mapstructure:"max_history_turns" validate:"required,min=1"`
}

// FileConfig holds audio file locations.
type FileConfig struct {
	GreetingPath string `mapstructure:"greeting_path"`
	RecordingDir string `mapstructure:"recording_dir" validate:"required"`
	ResponseDir  string `mapstructure:"response_dir" validate:"required"`
}

// AppConfig is the root application configuration.
type AppConfig struct {
	Name     string          `mapstructure:"service_name" validate:"required"`
	LogLevel string          `mapstructure:"log_level" validate:"required"`
	LogFile  string          `mapstructure:"log_file"`
	SIP      SIPConfig       `mapstructure:"sip" validate:"required"`
	RTP      RTPConfig       `mapstructure:"rtp" validate:"required"`
	WS       WebSocketConfig `mapstructure:"ws" validate:"required"`
	VAD      VADConfig       `mapstructure:"vad" validate:"required"`
	Backend  BackendConfig   `mapstructure:"backend" validate:"required"`
	Files    FileConfig      `mapstructure:"files" validate:"required"`
}

// InviteTimeout returns the configured INVITE timeout as a duration.
func (c *SIPConfig) InviteTimeout() time.Duration {
	return time.Duration(c.InviteTimeoutSec) * time.Second
}

// InitConfig reads .env style configuration with environment overrides.
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	if path := os.Getenv("ENV_PATH"); path != "" {
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Printf("reading configuration from environment variables")
	}

	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	v.SetDefault("SERVICE_NAME", "callbridge")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "")

	v.SetDefault("SIP__LOCAL_IP", "127.0.0.1")
	v.SetDefault("SIP__LOCAL_PORT", 5062)
	v.SetDefault("SIP__SERVER_IP", "127.0.0.1")
	v.SetDefault("SIP__SERVER_PORT", 5060)
	v.SetDefault("SIP__AUTO_ANSWER", true)
	v.SetDefault("SIP__INVITE_TIMEOUT_SEC", 32)

	v.SetDefault("RTP__PORT_RANGE_START", 31000)
	v.SetDefault("RTP__PORT_RANGE_END", 31100)
	v.SetDefault("RTP__PORT_STEP", 4)
	v.SetDefault("RTP__UTTERANCE_CAP_PACKETS", 120)
	v.SetDefault("RTP__UTTERANCE_QUEUE_SIZE", 8)
	v.SetDefault("RTP__PLAYBACK_QUEUE_SIZE", 500)

	v.SetDefault("WS__HOST", "0.0.0.0")
	v.SetDefault("WS__PORT", 8080)
	v.SetDefault("WS__EVENT_QUEUE_SIZE", 1000)

	v.SetDefault("VAD__MODEL_PATH", "")
	v.SetDefault("VAD__THRESHOLD", 0.5)
	v.SetDefault("VAD__HANGOVER_FRAMES", 2)

	v.SetDefault("BACKEND__PROVIDER", "openai")
	v.SetDefault("BACKEND__OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("BACKEND__ANTHROPIC_MODEL", "claude-3-5-haiku-latest")
	v.SetDefault("BACKEND__LOCAL_BASE_URL", "http://127.0.0.1:11434")
	v.SetDefault("BACKEND__LOCAL_MODEL", "qwen3:1.7b")
	v.SetDefault("BACKEND__SYSTEM_PROMPT", "")
	v.SetDefault("BACKEND__REQUEST_TIMEOUT", "20s")
	v.SetDefault("BACKEND__MAX_HISTORY_TURNS", 10)

	v.SetDefault("FILES__GREETING_PATH", "./output/transcode/greeting.wav")
	v.SetDefault("FILES__RECORDING_DIR", "./recording")
	v.SetDefault("FILES__RESPONSE_DIR", "./output/response")
}

// GetApplicationConfig unmarshals and validates the app configuration.
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var config AppConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	validate := validator.New()
	if err := validate.Struct(&config); err != nil {
		return nil, err
	}
	return &config, nil
}
