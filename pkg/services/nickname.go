package services

import (
	_ "embed"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sciregistry/collection-engine/pkg/apperrors"
)

//go:embed data/adjectives.txt
var adjectivesRaw string

//go:embed data/animals.yaml
var animalsRaw []byte

// NicknameNotAllowed is recorded as the nickname of a non-model resource
// that arrived with one, so that static validation flags it instead of the
// nickname silently disappearing.
const NicknameNotAllowed = "nickname not allowed for non-model resources"

// NicknameRegistry hands out globally unique adjective-animal nicknames for
// model resources. It is a per-run value seeded from the record store at run
// start; it is never persisted as a separate artifact.
type NicknameRegistry struct {
	adjectives []string
	animals    []string
	icons      map[string]string
	known      map[string]bool

	// dashes are the candidate split points, longest-match animal names
	// containing a dash first (e.g. "-sea-lion" before plain "-").
	dashes []string

	rng *rand.Rand
}

// NewNicknameRegistry builds a registry over the embedded vocabulary.
// known holds every nickname already present in the record store, regardless
// of resource status. rng may be nil.
func NewNicknameRegistry(known map[string]bool, rng *rand.Rand) (*NicknameRegistry, error) {
	icons := map[string]string{}
	if err := yaml.Unmarshal(animalsRaw, &icons); err != nil {
		return nil, fmt.Errorf("failed to parse animal vocabulary: %w", err)
	}
	animals := make([]string, 0, len(icons))
	for a := range icons {
		animals = append(animals, a)
	}
	sort.Strings(animals)

	var dashes []string
	for _, a := range animals {
		if strings.Contains(a, "-") {
			dashes = append(dashes, "-"+a)
		}
	}
	dashes = append(dashes, "-")

	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if known == nil {
		known = map[string]bool{}
	}

	return &NicknameRegistry{
		adjectives: strings.Fields(adjectivesRaw),
		animals:    animals,
		icons:      icons,
		known:      known,
		dashes:     dashes,
		rng:        rng,
	}, nil
}

// Generate returns a free nickname and its icon and reserves it for the rest
// of the run.
func (n *NicknameRegistry) Generate() (string, string, error) {
	for i := 0; i < 100000; i++ {
		adjective := n.adjectives[n.rng.Intn(len(n.adjectives))]
		animal := n.animals[n.rng.Intn(len(n.animals))]
		nickname := adjective + "-" + animal
		if n.known[nickname] {
			continue
		}
		n.known[nickname] = true
		return nickname, n.icons[animal], nil
	}
	return "", "", apperrors.ErrNicknameExhausted
}

// Reserve marks a nickname as taken without validating it.
func (n *NicknameRegistry) Reserve(nickname string) {
	n.known[nickname] = true
}

// Split splits a nickname into adjective and animal, aware of animal names
// that themselves contain a dash.
func (n *NicknameRegistry) Split(nickname string) (string, string, error) {
	for _, d := range n.dashes {
		if idx := strings.LastIndex(nickname, d); idx > 0 {
			return nickname[:idx], nickname[idx+1:], nil
		}
	}
	return "", "", fmt.Errorf("missing dash in nickname %q", nickname)
}

// Valid reports whether nickname is composed from the vocabulary.
func (n *NicknameRegistry) Valid(nickname string) bool {
	adjective, animal, err := n.Split(nickname)
	if err != nil {
		return false
	}
	if _, ok := n.icons[animal]; !ok {
		return false
	}
	for _, a := range n.adjectives {
		if a == adjective {
			return true
		}
	}
	return false
}

// Icon returns the icon for an animal name.
func (n *NicknameRegistry) Icon(animal string) (string, bool) {
	icon, ok := n.icons[animal]
	return icon, ok
}
