package app

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/spf13/pflag"

	"github.com/mtokuhisa/minutesgen/pkg/logging"
)

const (
	defaultAppName              = "minutesgen"
	defaultSegmentSeconds       = 600
	defaultSegmentSafetyBytes   = 20 << 20 // 20 MiB safety threshold
	defaultUploadChunkBytes     = 50 << 20 // 50 MiB
	defaultDirectUploadMaxBytes = 100 << 20
	defaultOrphanReapAgeS       = 24 * 3600
	defaultTimeoutS             = 300
	defaultASRModel             = "whisper-1"
	defaultChatModel            = "gpt-4o"
	defaultSummaryModel         = "gpt-4o-mini"
)

// ServerConfig is the full runtime configuration for the host process.
type ServerConfig struct {
	LogFormat string `json:"logformat"`
	LogLevel  string `json:"loglevel"`
	Port      int    `json:"port"`
	TimeoutS  int    `json:"timeoutS"`

	// Domains is a comma-separated list of domains for Let's Encrypt.
	Domains string `json:"domains"`
	// CertPath/KeyPath are used for a static TLS certificate instead of ACME.
	CertPath string `json:"-"`
	KeyPath  string `json:"-"`

	// AppName names the per-user directories under the home dir, e.g. ~/.<AppName>/bin.
	AppName string `json:"appname"`
	// TempRoot is the root under which intake sessions and segment runs live.
	// Defaults to os.TempDir() when empty.
	TempRoot string `json:"temproot"`
	// TranscoderBinary is the bundled native binary name BM manages (no extension).
	TranscoderBinary string `json:"transcoderbinary"`
	// TranscoderSourceDir is where the bundled binary ships from (read-only).
	TranscoderSourceDir string `json:"transcodersourcedir"`

	// SegmentSeconds is the default target segment duration (S in SPEC_FULL.md §4.4).
	SegmentSeconds int `json:"segmentseconds"`
	// SegmentSafetyBytes holds the per-segment size threshold (default 20 MiB).
	// Nothing reads it: the segmentation engine segments every input
	// regardless of its size.
	SegmentSafetyBytes int64 `json:"segmentsafetybytes"`
	// UploadChunkBytes is the fixed target chunk size used by SI.
	UploadChunkBytes int64 `json:"uploadchunkbytes"`
	// DirectUploadMaxBytes is the ceiling for the single-shot save-to-temp path.
	DirectUploadMaxBytes int64 `json:"directuploadmaxbytes"`
	// OrphanReapAgeS is the age (seconds) after which orphaned intake sessions are reaped.
	OrphanReapAgeS int `json:"orphanreapages"`

	// ASRBaseURL / ASRAPIKey / ASRModel configure the transcription endpoint.
	ASRBaseURL string `json:"asrbaseurl"`
	ASRAPIKey  string `json:"-"`
	ASRModel   string `json:"asrmodel"`

	// ChatBaseURL / ChatAPIKey / ChatModel / SummaryModel configure the minutes endpoint.
	ChatBaseURL  string `json:"chatbaseurl"`
	ChatAPIKey   string `json:"-"`
	ChatModel    string `json:"chatmodel"`
	SummaryModel string `json:"summarymodel"`
}

var DefaultConfig = ServerConfig{
	LogFormat:            "text",
	LogLevel:             "INFO",
	Port:                 8899,
	TimeoutS:             defaultTimeoutS,
	AppName:              defaultAppName,
	TranscoderBinary:     "transcoder",
	SegmentSeconds:       defaultSegmentSeconds,
	SegmentSafetyBytes:   defaultSegmentSafetyBytes,
	UploadChunkBytes:     defaultUploadChunkBytes,
	DirectUploadMaxBytes: defaultDirectUploadMaxBytes,
	OrphanReapAgeS:       defaultOrphanReapAgeS,
	ASRModel:             defaultASRModel,
	ChatModel:            defaultChatModel,
	SummaryModel:         defaultSummaryModel,
}

// LoadConfig loads defaults, an optional config file, command line flags, and
// finally environment variables, in that order of increasing precedence.
func LoadConfig(args []string, cwd string) (*ServerConfig, error) {
	k := koanf.New(".")
	defaults := DefaultConfig
	if err := k.Load(structs.Provider(defaults, "json"), nil); err != nil {
		return nil, err
	}

	f := pflag.NewFlagSet(defaultAppName, pflag.ContinueOnError)
	f.Usage = func() {
		parts := strings.Split(args[0], "/")
		name := parts[len(parts)-1]
		fmt.Fprintf(os.Stderr, "Run as %s [options]:\n", name)
		f.PrintDefaults()
	}

	cfgFile := f.String("cfg", "", "path to a JSON config file")
	f.Int("port", k.Int("port"), "HTTP port")
	lf := strings.Join(logging.LogFormats, ", ")
	f.String("logformat", k.String("logformat"), fmt.Sprintf("log format [%s]", lf))
	f.String("loglevel", k.String("loglevel"), fmt.Sprintf("log level [%s]", strings.Join(logging.LogLevels, ", ")))
	f.Int("timeout", k.Int("timeoutS"), "timeout for all requests (seconds)")
	f.String("temproot", k.String("temproot"), "root directory for intake/segment temp files (defaults to OS temp dir)")
	f.String("transcoderbinary", k.String("transcoderbinary"), "name of the bundled transcoder binary")
	f.String("transcodersourcedir", k.String("transcodersourcedir"), "directory containing the bundled transcoder binary")
	f.Int("segmentseconds", k.Int("segmentseconds"), "default segment duration in seconds")
	f.Int64("segmentsafetybytes", k.Int64("segmentsafetybytes"), "per-segment byte threshold (stored in the config; not read by the segmentation engine)")
	f.Int64("uploadchunkbytes", k.Int64("uploadchunkbytes"), "target chunk size for chunked uploads")
	f.Int64("directuploadmaxbytes", k.Int64("directuploadmaxbytes"), "max size eligible for the single-shot upload path")
	f.Int("orphanreapages", k.Int("orphanreapages"), "age in seconds after which orphaned intake sessions are reaped")
	f.String("asrbaseurl", k.String("asrbaseurl"), "base URL of the ASR (speech-to-text) service")
	f.String("asrmodel", k.String("asrmodel"), "ASR model identifier")
	f.String("chatbaseurl", k.String("chatbaseurl"), "base URL of the chat-completion service")
	f.String("chatmodel", k.String("chatmodel"), "chat-completion model identifier used for minutes generation")
	f.String("summarymodel", k.String("summarymodel"), "cheap chat-completion model used for summary polishing")
	f.String("domains", k.String("domains"), "One or more DNS domains (comma-separated) for auto certificate from Let's Encrypt")
	f.String("certpath", k.String("certpath"), "path to TLS certificate file (for HTTPS)")
	f.String("keypath", k.String("keypath"), "path to TLS private key file (for HTTPS)")
	if err := f.Parse(args[1:]); err != nil {
		return nil, fmt.Errorf("command line parse: %w", err)
	}

	if *cfgFile != "" {
		cf := file.Provider(*cfgFile)
		if err := k.Load(cf, json.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, fmt.Errorf("parsing cli: %w", err)
	}

	err := k.Load(env.Provider(strings.ToUpper(defaultAppName)+"_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(s, strings.ToUpper(defaultAppName)+"_")), "_", ".")
	}), nil)
	if err != nil {
		return nil, err
	}

	if err := checkTLSParams(k); err != nil {
		return nil, err
	}

	tempRoot := k.String("temproot")
	if tempRoot != "" && !path.IsAbs(tempRoot) {
		tempRoot = path.Join(cwd, tempRoot)
		if err := k.Load(confmap.Provider(map[string]any{"temproot": tempRoot}, "."), nil); err != nil {
			return nil, err
		}
	}

	if k.String("domains") != "" {
		if err := k.Load(confmap.Provider(map[string]any{"port": 443}, "."), nil); err != nil {
			return nil, err
		}
	}

	// API keys are intentionally only ever read from the environment, never
	// from a config file or the command line, to keep them out of shell
	// history and on-disk configs.
	asrKey := os.Getenv("MINUTESGEN_ASR_API_KEY")
	chatKey := os.Getenv("MINUTESGEN_CHAT_API_KEY")

	var cfg ServerConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	cfg.ASRAPIKey = asrKey
	cfg.ChatAPIKey = chatKey
	if cfg.TempRoot == "" {
		cfg.TempRoot = os.TempDir()
	}

	return &cfg, nil
}

func checkTLSParams(k *koanf.Koanf) error {
	domains := k.String("domains")
	certPath := k.String("certpath")
	keyPath := k.String("keypath")
	switch {
	case domains != "":
		if certPath != "" || keyPath != "" {
			return fmt.Errorf("cannot use certpath and keypath together with Let's Encrypt domains")
		}
		return nil
	case certPath == "" && keyPath == "":
		return nil // HTTP
	case certPath != "" && keyPath != "":
		return nil // HTTPS
	default:
		return fmt.Errorf("certpath and keypath must both be empty or set")
	}
}
