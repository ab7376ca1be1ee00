// Package gofish implements a card-matching set-collection game. Players
// ask each other for a card number they hold; a hit takes every matching
// card and keeps the turn, a miss draws from the deck ("fishing"). Four
// of a kind forms a book; most books wins once every hand is empty.
package gofish

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/openarcade/arcade-backend/internal/engine"
)

const handSize = 7

// feedLen bounds the rolling event feed shown in every view.
const feedLen = 5

// Ask is the only move: demand every card of a number from one victim.
type Ask struct {
	Victim string `json:"victim"`
	Number int    `json:"number"`
}

type FeedKind string

const (
	FeedGameStart   FeedKind = "game_start"
	FeedTookCards   FeedKind = "took_cards"
	FeedWentFishing FeedKind = "went_fishing"
	FeedFishedCard  FeedKind = "fished_card"
	FeedNewBook     FeedKind = "new_book"
	FeedHandEmptied FeedKind = "hand_emptied"
	FeedDropped     FeedKind = "dropped"
)

// FeedItem is one entry of the rolling in-game event feed.
type FeedItem struct {
	Kind   FeedKind `json:"kind"`
	Actor  string   `json:"actor,omitempty"`
	Victim string   `json:"victim,omitempty"`
	Number int      `json:"number,omitempty"`
	Count  int      `json:"count,omitempty"`
	Cards  []Card   `json:"cards,omitempty"`
}

type player struct {
	seat     int
	hand     []Card
	lastFish *Card
	books    [][]Card
}

func (p *player) take(number int) []Card {
	var taken, kept []Card
	for _, c := range p.hand {
		if c.Number == number {
			taken = append(taken, c)
		} else {
			kept = append(kept, c)
		}
	}
	p.hand = kept
	return taken
}

func (p *player) receive(cards []Card) {
	p.hand = append(p.hand, cards...)
	sortByNumber(p.hand)
}

func sortByNumber(cards []Card) {
	sort.Slice(cards, func(i, j int) bool { return cards[i].Number < cards[j].Number })
}

type Game struct {
	deck    []Card
	players map[string]*player
	order   []string // turn order; order[0] moves next
	feed    []FeedItem
}

func Info() engine.Info {
	return engine.Info{
		Name:          "gofish",
		MinPlayers:    2,
		MaxPlayers:    2,
		MaxSpectators: 0,
		WaitTime:      30 * time.Second,
		Timeout:       engine.TimeoutDropsPlayer,
		New:           New,
	}
}

func New(_ context.Context, players []string, _ json.RawMessage) (engine.Game, error) {
	deck := Deck()
	rand.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })
	return newFromDeck(players, deck)
}

// newFromDeck deals handSize cards to each player from the back of deck.
func newFromDeck(ids []string, deck []Card) (*Game, error) {
	if len(ids) < 2 {
		return nil, fmt.Errorf("gofish: want at least 2 players, got %d", len(ids))
	}
	if len(deck) < handSize*len(ids) {
		return nil, fmt.Errorf("gofish: deck too small for %d players", len(ids))
	}
	g := &Game{
		players: make(map[string]*player, len(ids)),
		order:   append([]string(nil), ids...),
	}
	for i, id := range ids {
		p := &player{seat: i + 1}
		for n := 0; n < handSize; n++ {
			p.hand = append(p.hand, deck[len(deck)-1])
			deck = deck[:len(deck)-1]
		}
		sortByNumber(p.hand)
		g.players[id] = p
	}
	g.deck = deck
	g.log(FeedItem{Kind: FeedGameStart})
	return g, nil
}

func (g *Game) log(item FeedItem) {
	g.feed = append(g.feed, item)
	if len(g.feed) > feedLen {
		g.feed = g.feed[len(g.feed)-feedLen:]
	}
}

// next is the identity whose turn it is.
func (g *Game) next() string { return g.order[0] }

func (g *Game) advanceTurn() {
	g.order = append(g.order[1:], g.order[0])
}

// skipUnplayable passes over players with empty hands.
func (g *Game) skipUnplayable() {
	if g.Ended() {
		return // otherwise loops forever
	}
	for len(g.players[g.next()].hand) == 0 {
		g.advanceTurn()
	}
}

func (g *Game) checkBooks(id string) {
	p := g.players[id]
	if len(p.hand) == 0 {
		return // no books makeable from empty
	}
	counts := make(map[int]int)
	for _, c := range p.hand {
		counts[c.Number]++
	}
	nums := make([]int, 0, len(counts))
	for num, n := range counts {
		if n >= 4 {
			nums = append(nums, num)
		}
	}
	sort.Ints(nums)
	for _, num := range nums {
		book := p.take(num)
		sort.Slice(book, func(i, j int) bool { return book[i].Suit < book[j].Suit })
		p.books = append(p.books, book)
		g.log(FeedItem{Kind: FeedNewBook, Actor: id, Number: num, Cards: book})
	}
	if len(p.hand) == 0 {
		// newly emptied by book withdrawal
		g.log(FeedItem{Kind: FeedHandEmptied, Actor: id})
	}
}

func (g *Game) Update(actor string, move any) (any, error) {
	if g.Ended() {
		panic("gofish: update after game end")
	}
	if _, ok := g.players[actor]; !ok {
		return nil, engine.ErrNotPlaying
	}
	if actor != g.next() {
		return nil, engine.ErrWrongTurn
	}
	mv, ok := move.(Ask)
	if !ok {
		return nil, engine.ErrUnknownMove
	}
	victim, ok := g.players[mv.Victim]
	if !ok || mv.Victim == actor {
		return nil, engine.ErrIllegalMove
	}
	if mv.Number < 0 || mv.Number > 12 {
		return nil, engine.ErrIllegalMove
	}
	asker := g.players[actor]
	if !holdsNumber(asker.hand, mv.Number) {
		return nil, engine.ErrIllegalMove // may only ask for a number you hold
	}

	taken := victim.take(mv.Number)
	if len(taken) > 0 {
		asker.receive(taken)
		asker.lastFish = nil
		g.checkBooks(actor)
		g.log(FeedItem{
			Kind: FeedTookCards, Actor: actor, Victim: mv.Victim,
			Number: mv.Number, Count: len(taken),
		})
	} else if len(g.deck) > 0 {
		draw := g.deck[len(g.deck)-1]
		g.deck = g.deck[:len(g.deck)-1]
		asker.receive([]Card{draw})
		asker.lastFish = &draw
		g.checkBooks(actor)
		if draw.Number == mv.Number {
			g.log(FeedItem{
				Kind: FeedFishedCard, Actor: actor, Victim: mv.Victim,
				Number: mv.Number, Cards: []Card{draw},
			})
		} else {
			g.log(FeedItem{
				Kind: FeedWentFishing, Actor: actor, Victim: mv.Victim,
				Number: mv.Number,
			})
			g.advanceTurn()
		}
	} else {
		// dry deck: the miss just passes the turn
		g.log(FeedItem{
			Kind: FeedWentFishing, Actor: actor, Victim: mv.Victim,
			Number: mv.Number,
		})
		g.advanceTurn()
	}
	g.skipUnplayable()
	return len(taken), nil
}

func holdsNumber(hand []Card, number int) bool {
	for _, c := range hand {
		if c.Number == number {
			return true
		}
	}
	return false
}

// Ended reports whether every remaining hand is empty.
func (g *Game) Ended() bool {
	for _, id := range g.order {
		if len(g.players[id].hand) > 0 {
			return false
		}
	}
	return true
}

func (g *Game) bookCounts() map[string]int {
	counts := make(map[string]int, len(g.players))
	for id, p := range g.players {
		counts[id] = len(p.books)
	}
	return counts
}

func (g *Game) Winner(id string) engine.Outcome {
	counts := g.bookCounts()
	mine, ok := counts[id]
	if !ok {
		return engine.DrawnOrLost // dropped mid-game, or never playing
	}
	if !g.Ended() {
		return engine.NotOver
	}
	for _, n := range counts {
		if n > mine {
			return engine.DrawnOrLost
		}
	}
	return engine.Won
}

// DropParticipant removes a timed-out player from the turn order; the
// remaining players keep going.
func (g *Game) DropParticipant(id string) {
	if _, ok := g.players[id]; !ok {
		return
	}
	delete(g.players, id)
	for i, other := range g.order {
		if other == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	g.log(FeedItem{Kind: FeedDropped, Actor: id})
	if len(g.order) > 0 {
		g.skipUnplayable()
	}
}

// Players reports how many players remain in the game.
func (g *Game) Players() int { return len(g.players) }

// PlayerSummary is the public standing of one player.
type PlayerSummary struct {
	ID    string `json:"id"`
	Seat  int    `json:"seat"`
	Cards int    `json:"cards"`
	Books int    `json:"books"`
}

// View is the per-viewer render model; only the viewer's own hand is
// exposed.
type View struct {
	Players  []PlayerSummary `json:"players"`
	Hand     []Card          `json:"hand,omitempty"`
	Books    [][]Card        `json:"books,omitempty"`
	LastFish *Card           `json:"last_fish,omitempty"`
	Next     string          `json:"next"`
	DeckSize int             `json:"deck_size"`
	Feed     []FeedItem      `json:"feed"`
	Ended    bool            `json:"ended"`
	Outcome  string          `json:"outcome,omitempty"`
}

func (g *Game) View(viewer string) any {
	summaries := make([]PlayerSummary, 0, len(g.players))
	for id, p := range g.players {
		summaries = append(summaries, PlayerSummary{
			ID: id, Seat: p.seat, Cards: len(p.hand), Books: len(p.books),
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Seat < summaries[j].Seat })

	next := ""
	if len(g.order) > 0 {
		next = g.next()
	}
	v := View{
		Players:  summaries,
		Next:     next,
		DeckSize: len(g.deck),
		Feed:     append([]FeedItem(nil), g.feed...),
		Ended:    g.Ended(),
	}
	if me, ok := g.players[viewer]; ok {
		v.Hand = append([]Card(nil), me.hand...)
		v.Books = me.books
		v.LastFish = me.lastFish
	}
	if v.Ended {
		v.Outcome = g.Winner(viewer).String()
	}
	return v
}
