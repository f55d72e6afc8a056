package config

import "slices"

// Diff describes what changed between two configs.
// Only settings that running calls or new calls pick up without a restart
// are tracked; provider and server address changes need a restart.
type Diff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// EndpointingChanged is set when any endpointing threshold changed.
	// New calls use the new values; running calls keep theirs.
	EndpointingChanged bool

	CharactersChanged bool
	Characters        []CharacterDiff // sorted by ID
}

// CharacterDiff describes what changed for one catalog entry.
type CharacterDiff struct {
	ID              string
	NameChanged     bool
	ContextChanged  bool
	GreetingChanged bool
	VoiceChanged    bool
	Added           bool
	Removed         bool
}

// Compare returns the hot-reloadable differences from old to new.
func Compare(old, new *Config) Diff {
	var d Diff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.EndpointingChanged = old.Endpointing != new.Endpointing

	before := indexCharacters(old.Characters)
	after := indexCharacters(new.Characters)

	for id, o := range before {
		n, ok := after[id]
		if !ok {
			d.Characters = append(d.Characters, CharacterDiff{ID: id, Removed: true})
			continue
		}
		cd := CharacterDiff{
			ID:              id,
			NameChanged:     o.Name != n.Name,
			ContextChanged:  o.Context != n.Context,
			GreetingChanged: o.Greeting != n.Greeting,
			VoiceChanged:    o.Voice != n.Voice,
		}
		if cd.NameChanged || cd.ContextChanged || cd.GreetingChanged || cd.VoiceChanged {
			d.Characters = append(d.Characters, cd)
		}
	}
	for id := range after {
		if _, ok := before[id]; !ok {
			d.Characters = append(d.Characters, CharacterDiff{ID: id, Added: true})
		}
	}

	slices.SortFunc(d.Characters, func(a, b CharacterDiff) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	d.CharactersChanged = len(d.Characters) > 0
	return d
}

func indexCharacters(chars []CharacterConfig) map[string]CharacterConfig {
	m := make(map[string]CharacterConfig, len(chars))
	for _, c := range chars {
		m[c.ID] = c
	}
	return m
}
