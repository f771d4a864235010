// Package bet decodes bet identifiers for display. The client never compares
// or validates bets; legality is decided by the server.
package bet

import (
	"strings"
)

// Category names a hand combination a player can claim.
type Category string

const (
	CategoryHighCard      Category = "high_card"
	CategoryPair          Category = "pair"
	CategoryTwoPair       Category = "two_pair"
	CategorySmallStraight Category = "small_straight"
	CategoryBigStraight   Category = "big_straight"
	CategoryThree         Category = "three"
	CategoryFullHouse     Category = "full_house"
	CategoryFlush         Category = "flush"
	CategoryFour          Category = "four"
	CategorySmallPoker    Category = "small_poker"
	CategoryBigPoker      Category = "big_poker"
)

// Check is the identifier of the challenge action.
const Check = "check"

type shape int

const (
	shapeNone shape = iota
	shapeRank
	shapeTwoRanks
	shapeSuit
)

var categories = map[Category]struct {
	label string
	shape shape
}{
	CategoryHighCard:      {"high card", shapeRank},
	CategoryPair:          {"pair", shapeRank},
	CategoryTwoPair:       {"two pair", shapeTwoRanks},
	CategorySmallStraight: {"small straight", shapeNone},
	CategoryBigStraight:   {"big straight", shapeNone},
	CategoryThree:         {"three of a kind", shapeRank},
	CategoryFullHouse:     {"full house", shapeTwoRanks},
	CategoryFlush:         {"flush", shapeSuit},
	CategoryFour:          {"four of a kind", shapeRank},
	CategorySmallPoker:    {"small poker", shapeSuit},
	CategoryBigPoker:      {"big poker", shapeSuit},
}

var rankNames = map[string]string{
	"9":  "Nines",
	"10": "Tens",
	"J":  "Jacks",
	"Q":  "Queens",
	"K":  "Kings",
	"A":  "Aces",
}

var singularRankNames = map[string]string{
	"9":  "Nine",
	"10": "Ten",
	"J":  "Jack",
	"Q":  "Queen",
	"K":  "King",
	"A":  "Ace",
}

var suits = map[string]bool{"♠": true, "♣": true, "♦": true, "♥": true}

// Bet is the decoded form of a bet identifier. Known is false for
// identifiers that do not match any category this client knows about; Raw
// is always kept so such bets can still be displayed verbatim.
type Bet struct {
	Raw      string
	Category Category
	Ranks    []string
	Suit     string
	Known    bool
}

// IsRank reports whether s is a rank of the 24 card deck.
func IsRank(s string) bool {
	_, ok := rankNames[s]
	return ok
}

// IsSuit reports whether s is a suit symbol.
func IsSuit(s string) bool {
	return suits[s]
}

// Decode splits an identifier of the form <category>_<rank>[_<rank2>] or
// <category>_<suit> into its parts. Categories may themselves contain
// underscores, so rank and suit tokens are peeled off the end.
func Decode(id string) Bet {
	b := Bet{Raw: id}
	if id == "" {
		return b
	}

	tokens := strings.Split(id, "_")
	end := len(tokens)
	for end > 1 && (IsRank(tokens[end-1]) || IsSuit(tokens[end-1])) {
		end--
	}
	b.Category = Category(strings.Join(tokens[:end], "_"))

	for _, tok := range tokens[end:] {
		if IsSuit(tok) {
			if b.Suit != "" {
				return Bet{Raw: id, Category: b.Category}
			}
			b.Suit = tok
			continue
		}
		b.Ranks = append(b.Ranks, tok)
	}

	info, ok := categories[b.Category]
	if !ok {
		return b
	}

	switch info.shape {
	case shapeNone:
		b.Known = len(b.Ranks) == 0 && b.Suit == ""
	case shapeRank:
		b.Known = len(b.Ranks) == 1 && b.Suit == ""
	case shapeTwoRanks:
		b.Known = len(b.Ranks) == 2 && b.Suit == ""
	case shapeSuit:
		b.Known = len(b.Ranks) == 0 && b.Suit != ""
	}
	return b
}

// IsCheck reports whether the identifier is the check action.
func IsCheck(id string) bool {
	return id == Check
}

// String renders the bet for humans, e.g. "pair of Kings" or
// "two pair, Aces and Kings". Unknown bets render as their raw identifier.
func (b Bet) String() string {
	if !b.Known {
		return b.Raw
	}

	info := categories[b.Category]
	switch b.Category {
	case CategoryHighCard:
		return info.label + " " + singularRankNames[b.Ranks[0]]
	case CategoryPair:
		return "pair of " + rankNames[b.Ranks[0]]
	case CategoryTwoPair:
		return "two pair, " + rankNames[b.Ranks[0]] + " and " + rankNames[b.Ranks[1]]
	case CategoryFullHouse:
		return "full house, " + rankNames[b.Ranks[0]] + " over " + rankNames[b.Ranks[1]]
	}

	switch {
	case len(b.Ranks) == 1:
		return info.label + ", " + rankNames[b.Ranks[0]]
	case b.Suit != "":
		return info.label + " " + b.Suit
	default:
		return info.label
	}
}

// Describe decodes and renders an identifier in one step. An empty
// identifier renders as an empty string.
func Describe(id string) string {
	if IsCheck(id) {
		return "check"
	}
	return Decode(id).String()
}
