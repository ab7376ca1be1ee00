package gofish

import "fmt"

var suitNames = [4]string{"D", "C", "H", "S"}
var numberNames = [13]string{"A", "2", "3", "4", "5", "6", "7", "8", "9", "10", "J", "Q", "K"}

// Card is one playing card: suit 0–3 (diamonds, clubs, hearts, spades),
// number 0–12 (ace through king).
type Card struct {
	Suit   int `json:"suit"`
	Number int `json:"number"`
}

func (c Card) String() string {
	return fmt.Sprintf("%s%s", numberNames[c.Number], suitNames[c.Suit])
}

// Deck returns all 52 cards in suit-major order.
func Deck() []Card {
	deck := make([]Card, 0, 52)
	for suit := 0; suit < 4; suit++ {
		for num := 0; num < 13; num++ {
			deck = append(deck, Card{Suit: suit, Number: num})
		}
	}
	return deck
}
