// Package knowledgebase defines the static document that grounds the chat widget.
// A knowledgebase is read-only once loaded: callers receive a snapshot and never
// mutate it, and reloads swap in a fresh snapshot rather than editing the old one.
package knowledgebase

// Section names as they appear in the knowledgebase and in built contexts.
const (
	SectionAbout          = "about"
	SectionPortfolio      = "portfolio"
	SectionServices       = "services"
	SectionCertifications = "certifications"
	SectionEducation      = "education"
	SectionExperiences    = "experiences"
	SectionTechnologies   = "technologies"
)

// Entry is a knowledgebase record that may carry explicit match keywords.
type Entry interface {
	ExplicitKeywords() []string
}

// Knowledgebase is the structured document describing the subject.
type Knowledgebase struct {
	// Greeting is shown when a widget session opens.
	Greeting string `yaml:"greeting" json:"greeting,omitempty" toml:"greeting"`
	// SampleQuestions are suggested to the user on first open.
	SampleQuestions []string `yaml:"sample-questions" json:"sample-questions,omitempty" toml:"sample-questions"`

	About          *About          `yaml:"about" json:"about,omitempty" toml:"about"`
	Portfolio      []Project       `yaml:"portfolio" json:"portfolio,omitempty" toml:"portfolio"`
	Services       []Service       `yaml:"services" json:"services,omitempty" toml:"services"`
	Certifications []Certification `yaml:"certifications" json:"certifications,omitempty" toml:"certifications"`
	Education      []Education     `yaml:"education" json:"education,omitempty" toml:"education"`
	Experiences    []Experience    `yaml:"experiences" json:"experiences,omitempty" toml:"experiences"`
	Technologies   *Technologies   `yaml:"technologies" json:"technologies,omitempty" toml:"technologies"`
}

// About is the singleton profile record.
type About struct {
	Name     string `yaml:"name" json:"name" toml:"name"`
	Nickname string `yaml:"nickname" json:"nickname" toml:"nickname"`
	Title    string `yaml:"title" json:"title" toml:"title"`
	Location string `yaml:"location" json:"location" toml:"location"`
	Summary  string `yaml:"summary" json:"summary" toml:"summary"`
	Links    []Link `yaml:"links" json:"links" toml:"links"`
}

// Link is a labelled URL on the profile.
type Link struct {
	Label string `yaml:"label" json:"label" toml:"label"`
	URL   string `yaml:"url" json:"url" toml:"url"`
}

// Project is a portfolio entry.
type Project struct {
	Title        string   `yaml:"title" json:"title" toml:"title"`
	Description  string   `yaml:"description" json:"description" toml:"description"`
	Link         string   `yaml:"link" json:"link" toml:"link"`
	Keywords     []string `yaml:"keywords" json:"keywords" toml:"keywords"`
	Technologies string   `yaml:"technologies" json:"technologies" toml:"technologies"`
}

// Service is an offered service.
type Service struct {
	Name        string   `yaml:"name" json:"name" toml:"name"`
	Description string   `yaml:"description" json:"description" toml:"description"`
	Keywords    []string `yaml:"keywords" json:"keywords" toml:"keywords"`
}

// Certification is a held or expired certification.
type Certification struct {
	Certification string   `yaml:"certification" json:"certification" toml:"certification"`
	Period        string   `yaml:"period" json:"period" toml:"period"`
	Credential    string   `yaml:"credential" json:"credential" toml:"credential"`
	Keywords      []string `yaml:"keywords" json:"keywords" toml:"keywords"`
}

// Education is a degree or school record.
type Education struct {
	School   string   `yaml:"school" json:"school" toml:"school"`
	Location string   `yaml:"location" json:"location" toml:"location"`
	Degree   string   `yaml:"degree" json:"degree" toml:"degree"`
	Period   string   `yaml:"period" json:"period" toml:"period"`
	Keywords []string `yaml:"keywords" json:"keywords" toml:"keywords"`
}

// Experience is an employment record.
type Experience struct {
	Company     string   `yaml:"company" json:"company" toml:"company"`
	Location    string   `yaml:"location" json:"location" toml:"location"`
	Position    string   `yaml:"position" json:"position" toml:"position"`
	Period      string   `yaml:"period" json:"period" toml:"period"`
	Description []string `yaml:"description" json:"description" toml:"description"`
	Tools       string   `yaml:"tools" json:"tools" toml:"tools"`
	Keywords    []string `yaml:"keywords" json:"keywords" toml:"keywords"`
}

// Technologies is the flat tools list plus its own match keywords.
type Technologies struct {
	Tools    []string `yaml:"tools" json:"tools" toml:"tools"`
	Keywords []string `yaml:"keywords" json:"keywords" toml:"keywords"`
}

func (p Project) ExplicitKeywords() []string       { return p.Keywords }
func (s Service) ExplicitKeywords() []string       { return s.Keywords }
func (c Certification) ExplicitKeywords() []string { return c.Keywords }
func (e Education) ExplicitKeywords() []string     { return e.Keywords }
func (e Experience) ExplicitKeywords() []string    { return e.Keywords }

// SubjectName returns the name the assistant should use for the subject.
func (kb *Knowledgebase) SubjectName() string {
	if kb == nil || kb.About == nil {
		return "the site owner"
	}
	if kb.About.Nickname != "" {
		return kb.About.Nickname
	}
	if kb.About.Name != "" {
		return kb.About.Name
	}
	return "the site owner"
}

// Tools returns the flat technologies list, or nil when the section is absent.
func (kb *Knowledgebase) Tools() []string {
	if kb == nil || kb.Technologies == nil {
		return nil
	}
	return kb.Technologies.Tools
}

// Validate reports missing recommended sections. Missing sections are tolerated;
// the returned warnings are meant for logging only.
func Validate(kb *Knowledgebase) []string {
	if kb == nil {
		return []string{"knowledgebase is empty"}
	}
	var warnings []string
	if kb.About == nil {
		warnings = append(warnings, "knowledgebase missing recommended section: "+SectionAbout)
	}
	if len(kb.Portfolio) == 0 {
		warnings = append(warnings, "knowledgebase missing recommended section: "+SectionPortfolio)
	}
	return warnings
}
