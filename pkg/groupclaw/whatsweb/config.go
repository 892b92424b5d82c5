package whatsweb

import "time"

// Selectors locate the parts of the web client the driver touches. They
// track the client's rendering and are expected to change over time.
type Selectors struct {
	// SearchBox is the chat search input in the side panel.
	SearchBox string `yaml:"search_box"`

	// ComposeBox is the message input in the open chat footer.
	ComposeBox string `yaml:"compose_box"`

	// MessageRow matches one rendered message, incoming or outgoing.
	MessageRow string `yaml:"message_row"`

	// Meta matches the element carrying data-pre-plain-text inside a row.
	Meta string `yaml:"meta"`

	// Text matches the message body inside a row.
	Text string `yaml:"text"`

	// LoginQR is displayed while the client waits for a QR scan.
	LoginQR string `yaml:"login_qr"`
}

// DefaultSelectors returns the selectors for the current web client.
func DefaultSelectors() Selectors {
	return Selectors{
		SearchBox:  "div[contenteditable='true'][data-tab='3']",
		ComposeBox: "footer div[contenteditable='true'][data-tab='10']",
		MessageRow: "div.message-in, div.message-out",
		Meta:       "[data-pre-plain-text]",
		Text:       "span.selectable-text",
		LoginQR:    "canvas[aria-label]",
	}
}

// Config configures the page driver.
type Config struct {
	Selectors Selectors `yaml:"selectors"`

	// DateLayout is the Go time layout of the date inside message metadata
	// (default: "1/2/2006", month/day/year without padding).
	DateLayout string `yaml:"date_layout"`

	// MessageWindow is how many of the most recent rendered messages are
	// inspected per group (default: 100).
	MessageWindow int `yaml:"message_window" validate:"gte=0"`

	// ElementTimeout bounds waits for individual elements (default: 20s).
	ElementTimeout time.Duration `yaml:"element_timeout"`

	// PageTimeout bounds the wait for the client to load (default: 60s).
	PageTimeout time.Duration `yaml:"page_timeout"`

	// LoginTimeout bounds the interactive QR login (default: 5m).
	LoginTimeout time.Duration `yaml:"login_timeout"`

	// StepPause separates click, clear and type on the search box (default: 500ms).
	StepPause time.Duration `yaml:"step_pause"`

	// SearchPause lets search results and the opened chat render (default: 2s).
	SearchPause time.Duration `yaml:"search_pause"`

	// SendPause follows every submitted message (default: 2s).
	SendPause time.Duration `yaml:"send_pause"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Selectors:      DefaultSelectors(),
		DateLayout:     "1/2/2006",
		MessageWindow:  100,
		ElementTimeout: 20 * time.Second,
		PageTimeout:    60 * time.Second,
		LoginTimeout:   5 * time.Minute,
		StepPause:      500 * time.Millisecond,
		SearchPause:    2 * time.Second,
		SendPause:      2 * time.Second,
	}
}

// withDefaults fills zero values from DefaultConfig. Pauses are left alone
// so callers can disable them.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	s := &c.Selectors
	if s.SearchBox == "" {
		s.SearchBox = def.Selectors.SearchBox
	}
	if s.ComposeBox == "" {
		s.ComposeBox = def.Selectors.ComposeBox
	}
	if s.MessageRow == "" {
		s.MessageRow = def.Selectors.MessageRow
	}
	if s.Meta == "" {
		s.Meta = def.Selectors.Meta
	}
	if s.Text == "" {
		s.Text = def.Selectors.Text
	}
	if s.LoginQR == "" {
		s.LoginQR = def.Selectors.LoginQR
	}
	if c.DateLayout == "" {
		c.DateLayout = def.DateLayout
	}
	if c.MessageWindow <= 0 {
		c.MessageWindow = def.MessageWindow
	}
	if c.ElementTimeout <= 0 {
		c.ElementTimeout = def.ElementTimeout
	}
	if c.PageTimeout <= 0 {
		c.PageTimeout = def.PageTimeout
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = def.LoginTimeout
	}
	return c
}
