package config

// FeedSeed is one feed definition from the optional seed file. Feeds are
// upserted by URL at startup, so the file can be applied repeatedly.
type FeedSeed struct {
	URL      string   `yaml:"url"`
	Name     string   `yaml:"name"`
	Hashtags []string `yaml:"hashtags"`
	Active   *bool    `yaml:"active"`
}

// File is the top-level seed file structure.
type File struct {
	Feeds []FeedSeed `yaml:"feeds"`
}
