package cfg

type Cfg struct {
	// Storage configuration
	DBPath string

	// Application configuration
	Port           string
	BaseUrl        string
	IntervalMins   int
	PostLimit      int
	PublishDelayMs int
	FeedsFile      string
	APIAccessKey   string

	// Application metadata
	AppName   string
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
