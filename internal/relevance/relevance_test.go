package relevance

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ferret/internal/dom"
)

func block(index int, tag, text string) dom.Block {
	return dom.Block{Selector: tag, Tag: tag, Text: text, Index: index}
}

// Ten blocks, three about pricing. With the price keyword those three must
// survive, in document order.
func pricingFixture() []dom.Block {
	return []dom.Block{
		block(0, "p", "Welcome to our store where everything ships free over fifty dollars."),
		block(1, "h2", "Price breakdown for the deluxe widget bundle"),
		block(2, "p", "Our support team answers questions every weekday between nine and five."),
		block(3, "p", "The price includes two full years of software updates, priority email support, replacement parts coverage, and free shipping on every warranty claim, which makes the total cost of ownership easy to predict when budgeting."),
		block(4, "li", "Short note"),
		block(5, "p", "Company history: founded in a garage, now a global operation with many offices."),
		block(6, "table", "Plan Price Starter 9 Pro 29 Enterprise 99 per seat and month"),
		block(7, "p", "Careers: we are hiring engineers across three time zones right now."),
		block(8, "p", "Legal boilerplate about trademarks and third party attributions goes here."),
		block(9, "p", "Privacy policy summary and links to the full document for the curious."),
	}
}

func TestScoreKeywordAndStructure(t *testing.T) {
	kw := []string{"price"}

	heading := Score(block(0, "h2", "Price breakdown for the deluxe widget bundle"), kw)
	plain := Score(block(1, "p", "Company history: founded in a garage, now a global operation."), kw)
	assert.Greater(t, heading, plain)

	empty := Score(block(2, "p", ""), kw)
	assert.Zero(t, empty)
}

func TestScorePenalizesShortBlocks(t *testing.T) {
	short := Score(block(0, "p", "Short note"), nil)
	longer := Score(block(1, "p", "A considerably longer paragraph with enough words to not be penalized at all."), nil)
	assert.Less(t, short, longer)
}

func TestScorePenalizesOversizedBlocks(t *testing.T) {
	text := strings.Repeat("filler words all the way down ", 150)
	oversized := Score(block(0, "p", text), nil)
	normal := Score(block(1, "p", text[:1000]), nil)
	assert.Less(t, oversized, normal)
}

func TestFilterKeepsRelevantBlocksInDocumentOrder(t *testing.T) {
	got := Filter(pricingFixture(), []string{"price"}, 1.0, 25)

	require.Len(t, got, 3)
	assert.Equal(t, 1, got[0].Index)
	assert.Equal(t, 3, got[1].Index)
	assert.Equal(t, 6, got[2].Index)
	for _, s := range got {
		assert.GreaterOrEqual(t, s.Score, 1.0)
	}
}

func TestFilterCapsAtMaxItemsByScore(t *testing.T) {
	got := Filter(pricingFixture(), []string{"price"}, 1.0, 2)

	require.Len(t, got, 2)
	// Survivors stay in document order even after the score cut.
	assert.Less(t, got[0].Index, got[1].Index)
}

func TestFilterNormalizesKeywords(t *testing.T) {
	exact := Filter(pricingFixture(), []string{"price"}, 1.0, 25)
	sloppy := Filter(pricingFixture(), []string{"  PRICE  "}, 1.0, 25)
	assert.Equal(t, exact, sloppy)
}

func TestFilterEmptyInput(t *testing.T) {
	assert.Empty(t, Filter(nil, []string{"price"}, 1.0, 25))
}

func TestScoreIsPure(t *testing.T) {
	b := block(4, "li", "The price is right for this item and everyone agrees on that.")
	kw := []string{"price"}
	first := Score(b, kw)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Score(b, kw))
	}
}
