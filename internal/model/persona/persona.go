package persona

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultName is the personality a session falls back to when its active name no longer resolves.
const DefaultName = "Helper Bot"

var (
	ErrInvalidPersonality = errors.New("personality name and system prompt are required")
	ErrDuplicateName      = errors.New("personality name already registered")
)

// Personality binds a display name to the system prompt that frames every completion.
type Personality struct {
	Name         string `json:"name" yaml:"name" toml:"name"`
	SystemPrompt string `json:"systemPrompt" yaml:"system_prompt" toml:"system_prompt"`
}

// Validate reports whether both fields carry non-blank text.
func (p Personality) Validate() error {
	if strings.TrimSpace(p.Name) == "" || strings.TrimSpace(p.SystemPrompt) == "" {
		return ErrInvalidPersonality
	}
	return nil
}

// DuplicateNameError is returned by Register when the name is already taken.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("personality %q already registered", e.Name)
}

func (e *DuplicateNameError) Is(target error) bool {
	return target == ErrDuplicateName
}

// Seed provides the built-in catalog. Order matters: it is the order presented to users.
func Seed() []Personality {
	return []Personality{
		{
			Name:         DefaultName,
			SystemPrompt: "You are a helpful assistant.",
		},
		{
			Name:         "Startup Strategist",
			SystemPrompt: "You specialize in helping new businesses with planning and execution.",
		},
		{
			Name: "Hip-Hop Guru",
			SystemPrompt: "Welcome to Hip-Hop Guru, the chatbot that knows the beats, rhymes, and stories of the hip-hop world! " +
				"Whether you're curious about the origins of the genre, looking for the latest news on your favorite artists, " +
				"or searching for song lyrics and meanings, Hip-Hop Guru has got you covered.",
		},
		{
			Name: "Generational Copy",
			SystemPrompt: "At Generational Copy, LLC, we specialize in helping each generation write and share their unique stories. " +
				"Whether you're a first-time writer or a seasoned author, our tailored services guide you through the writing process.",
		},
		{
			Name: "Jasmine Renee",
			SystemPrompt: "I am a motivational speaker with a message sharing God's love that inspires others to align with their Divine Connection. " +
				"My goal is to inspire hope, connection, and mindful living.",
		},
	}
}
