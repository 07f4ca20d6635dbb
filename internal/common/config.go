package common

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Config holds all application configuration. Values come from defaults,
// overlaid by an optional JSON config file, overlaid by SKYQUERY_* env vars.
type Config struct {
	Browser BrowserConfig `json:"browser"`
	OCR     OCRConfig     `json:"ocr"`
	Retry   RetryConfig   `json:"retry"`
	Output  OutputConfig  `json:"output"`
	Website WebsiteConfig `json:"website"`
	Store   StoreConfig   `json:"store"`
	Watch   WatchConfig   `json:"watch"`
}

// BrowserConfig holds Chrome session configuration.
type BrowserConfig struct {
	Headless        bool          `json:"headless" envconfig:"SKYQUERY_BROWSER_HEADLESS"`
	WindowSize      string        `json:"window_size" envconfig:"SKYQUERY_BROWSER_WINDOW_SIZE"`
	UserAgent       string        `json:"user_agent" envconfig:"SKYQUERY_BROWSER_USER_AGENT"`
	PageLoadTimeout Duration      `json:"page_load_timeout" envconfig:"SKYQUERY_BROWSER_PAGE_LOAD_TIMEOUT"`
	ImplicitWait    Duration      `json:"implicit_wait" envconfig:"SKYQUERY_BROWSER_IMPLICIT_WAIT"`
}

// OCRConfig holds recognition configuration.
type OCRConfig struct {
	Engine              string   `json:"engine" envconfig:"SKYQUERY_OCR_ENGINE"`
	Fallbacks           []string `json:"fallbacks" envconfig:"SKYQUERY_OCR_FALLBACKS"`
	ConfidenceThreshold float64  `json:"confidence_threshold" envconfig:"SKYQUERY_OCR_CONFIDENCE_THRESHOLD"`
	TessdataDir         string   `json:"tessdata_dir" envconfig:"TESSDATA_PREFIX"`
	Language            string   `json:"language" envconfig:"SKYQUERY_OCR_LANGUAGE"`
}

// RetryConfig holds the retry budgets and pacing for the pipeline.
type RetryConfig struct {
	MaxAttempts          int      `json:"max_attempts" envconfig:"SKYQUERY_RETRY_MAX_ATTEMPTS"`
	CaptchaMaxAttempts   int      `json:"captcha_max_attempts" envconfig:"SKYQUERY_RETRY_CAPTCHA_MAX_ATTEMPTS"`
	TimeImageMaxAttempts int      `json:"time_image_max_attempts" envconfig:"SKYQUERY_RETRY_TIME_IMAGE_MAX_ATTEMPTS"`
	DelayBetweenAttempts Duration `json:"delay_between_attempts" envconfig:"SKYQUERY_RETRY_DELAY_BETWEEN_ATTEMPTS"`
	FlightDelay          Duration `json:"flight_delay" envconfig:"SKYQUERY_RETRY_FLIGHT_DELAY"`
	// RateLimitWindow: captcha rejections closer together than this are
	// treated as a rate-limit signal rather than bad recognition.
	RateLimitWindow     Duration  `json:"rate_limit_window" envconfig:"SKYQUERY_RETRY_RATE_LIMIT_WINDOW"`
	RateLimitRejections int       `json:"rate_limit_rejections" envconfig:"SKYQUERY_RETRY_RATE_LIMIT_REJECTIONS"`
}

// OutputConfig holds report writer configuration.
type OutputConfig struct {
	Dir             string `json:"dir" envconfig:"SKYQUERY_OUTPUT_DIR"`
	FilePrefix      string `json:"file_prefix" envconfig:"SKYQUERY_OUTPUT_FILE_PREFIX"`
	SaveImages      bool   `json:"save_images" envconfig:"SKYQUERY_OUTPUT_SAVE_IMAGES"`
	GenerateSummary bool   `json:"generate_summary" envconfig:"SKYQUERY_OUTPUT_GENERATE_SUMMARY"`
}

// WebsiteConfig holds the target site and its selector table. The XPaths
// default to the flight-status tool this was built against; sites shuffle
// their markup, so every selector is overridable from the config file.
type WebsiteConfig struct {
	BaseURL   string    `json:"base_url" envconfig:"SKYQUERY_WEBSITE_BASE_URL"`
	Selectors Selectors `json:"selectors"`
}

// Selectors is the XPath table for the query form and result page.
// Segment-scoped entries contain a %d placeholder for the 1-based index.
type Selectors struct {
	FlightNumberTab    string `json:"flight_number_tab"`
	FlightNumberInput  string `json:"flight_number_input"`
	DepartureDateInput string `json:"departure_date_input"`
	CaptchaInput       string `json:"captcha_input"`
	CaptchaImage       string `json:"captcha_image"`
	QueryButton        string `json:"query_button"`
	ResultList         string `json:"result_list"`
	SegmentBase        string `json:"segment_base"`
	Origin             string `json:"origin"`
	Destination        string `json:"destination"`
	ScheduledDeparture string `json:"scheduled_departure"`
	ScheduledArrival   string `json:"scheduled_arrival"`
	ActualDepartureImg string `json:"actual_departure_img"`
	ActualArrivalImg   string `json:"actual_arrival_img"`
	FlightStatus       string `json:"flight_status"`
}

// StoreConfig holds the optional run-archive database.
type StoreConfig struct {
	// Driver is "sqlite" or "postgres". Archiving is disabled when DSN is empty.
	Driver string `json:"driver" envconfig:"SKYQUERY_STORE_DRIVER"`
	DSN    string `json:"dsn" envconfig:"SKYQUERY_STORE_DSN"`
}

// WatchConfig holds watch-mode configuration.
type WatchConfig struct {
	Dir      string   `json:"dir" envconfig:"SKYQUERY_WATCH_DIR"`
	Debounce Duration `json:"debounce" envconfig:"SKYQUERY_WATCH_DEBOUNCE"`
}

// DefaultConfig returns the configuration used when no file is present.
// The retry defaults match the documented behavior of the crawler.
func DefaultConfig() *Config {
	return &Config{
		Browser: BrowserConfig{
			Headless:        true,
			WindowSize:      "1920,1080",
			UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			PageLoadTimeout: Duration(60 * time.Second),
			ImplicitWait:    Duration(10 * time.Second),
		},
		OCR: OCRConfig{
			Engine:              "tesseract",
			Fallbacks:           []string{"tesseract-sparse"},
			ConfidenceThreshold: 0.60,
			Language:            "eng",
		},
		Retry: RetryConfig{
			MaxAttempts:          3,
			CaptchaMaxAttempts:   5,
			TimeImageMaxAttempts: 3,
			DelayBetweenAttempts: Duration(2 * time.Second),
			FlightDelay:          Duration(2 * time.Second),
			RateLimitWindow:      Duration(10 * time.Second),
			RateLimitRejections:  3,
		},
		Output: OutputConfig{
			Dir:             "output",
			FilePrefix:      "flight_data_",
			SaveImages:      true,
			GenerateSummary: true,
		},
		Website: WebsiteConfig{
			BaseURL: "https://tool.133.cn/flight/",
			Selectors: Selectors{
				FlightNumberTab:    `/html/body/div[1]/div[2]/div[1]/div[1]/div/div/div[1]/span[2]`,
				FlightNumberInput:  `/html/body/div[1]/div[2]/div[1]/div[1]/div/div/div[4]/div/input`,
				DepartureDateInput: `/html/body/div[1]/div[2]/div[1]/div[1]/div/div/div[5]/div/input`,
				CaptchaInput:       `/html/body/div[1]/div[2]/div[1]/div[1]/div/div/div[6]/div/input`,
				CaptchaImage:       `/html/body/div[1]/div[2]/div[1]/div[1]/div/div/div[6]/img`,
				QueryButton:        `/html/body/div[1]/div[2]/div[1]/div[1]/div/div/button`,
				ResultList:         `/html/body/div[1]/div[2]/div[1]/div/div[2]/div[3]`,
				SegmentBase:        `/html/body/div[1]/div[2]/div[1]/div/div[2]/div[3]/div[%d]`,
				Origin:             `/html/body/div[1]/div[2]/div[1]/div/div[2]/div[3]/div[%d]/div[2]/span`,
				Destination:        `/html/body/div[1]/div[2]/div[1]/div/div[2]/div[3]/div[%d]/div[3]/span`,
				ScheduledDeparture: `/html/body/div[1]/div[2]/div[1]/div/div[2]/div[3]/div[%d]/div[4]/span`,
				ScheduledArrival:   `/html/body/div[1]/div[2]/div[1]/div/div[2]/div[3]/div[%d]/div[5]/span[1]`,
				ActualDepartureImg: `/html/body/div[1]/div[2]/div[1]/div/div[2]/div[3]/div[%d]/div[6]/img`,
				ActualArrivalImg:   `/html/body/div[1]/div[2]/div[1]/div/div[2]/div[3]/div[%d]/div[7]/img`,
				FlightStatus:       `/html/body/div[1]/div[2]/div[1]/div/div[2]/div[3]/div[%d]/div[10]/span`,
			},
		},
		Store: StoreConfig{Driver: "sqlite"},
		Watch: WatchConfig{Debounce: Duration(2 * time.Second)},
	}
}

// configSchema guards the config file shape before it is merged; a typo'd
// section or a string where a number belongs fails fast at startup.
const configSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "browser": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "headless": {"type": "boolean"},
        "window_size": {"type": "string", "pattern": "^[0-9]+,[0-9]+$"},
        "user_agent": {"type": "string"},
        "page_load_timeout": {"type": "string"},
        "implicit_wait": {"type": "string"}
      }
    },
    "ocr": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "engine": {"type": "string"},
        "fallbacks": {"type": "array", "items": {"type": "string"}},
        "confidence_threshold": {"type": "number", "minimum": 0, "maximum": 1},
        "tessdata_dir": {"type": "string"},
        "language": {"type": "string"}
      }
    },
    "retry": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "max_attempts": {"type": "integer", "minimum": 1},
        "captcha_max_attempts": {"type": "integer", "minimum": 1},
        "time_image_max_attempts": {"type": "integer", "minimum": 1},
        "delay_between_attempts": {"type": "string"},
        "flight_delay": {"type": "string"},
        "rate_limit_window": {"type": "string"},
        "rate_limit_rejections": {"type": "integer", "minimum": 1}
      }
    },
    "output": {"type": "object"},
    "website": {"type": "object"},
    "store": {"type": "object"},
    "watch": {"type": "object"}
  }
}`

// LoadConfig builds the effective configuration. path may be empty, in
// which case only defaults and the environment apply. Durations in the
// file use Go syntax ("2s", "1m30s").
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// First run: write the defaults out for editing and use them.
			if werr := WriteDefault(path); werr != nil {
				return nil, fmt.Errorf("%w: writing defaults to %s: %v", ErrConfig, path, werr)
			}
			raw = nil
		case err != nil:
			return nil, err
		}
		if raw != nil {
			if err := decodeConfig(raw, cfg, path); err != nil {
				return nil, err
			}
		}
	}

	if err := envconfig.Process("skyquery", cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeConfig(raw []byte, cfg *Config, path string) error {
	if err := validateConfigJSON(raw); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConfig, path, err)
	}
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(cfg); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConfig, path, err)
	}
	return nil
}

func validateConfigJSON(raw []byte) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.schema.json", bytes.NewReader([]byte(configSchema))); err != nil {
		return err
	}
	schema, err := compiler.Compile("config.schema.json")
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}

// Validate checks cross-field constraints that the schema cannot express.
func (c *Config) Validate() error {
	if c.OCR.ConfidenceThreshold < 0 || c.OCR.ConfidenceThreshold > 1 {
		return fmt.Errorf("ocr.confidence_threshold %v out of [0,1]", c.OCR.ConfidenceThreshold)
	}
	if c.Retry.CaptchaMaxAttempts < 1 {
		return fmt.Errorf("retry.captcha_max_attempts must be >= 1")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	if c.Website.BaseURL == "" {
		return fmt.Errorf("website.base_url is required")
	}
	if c.Store.DSN != "" && c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		return fmt.Errorf("store.driver %q not supported (sqlite, postgres)", c.Store.Driver)
	}
	return nil
}

// WriteDefault writes the default configuration to path for editing.
func WriteDefault(path string) error {
	raw, err := json.MarshalIndent(DefaultConfig(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
