package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanText(t *testing.T) {
	assert.Equal(t, "a b c", CleanText("  a \n\t b  c  "))
	assert.Equal(t, "", CleanText(" \n "))
}

func TestCleanAnchorText(t *testing.T) {
	doc := mustDoc(t, `<a id="x" href="/cats/"><i class="icon"></i> Cats <b>and</b> kittens <small>128</small></a>`)
	assert.Equal(t, "Cats and kittens", CleanAnchorText(doc.Find("a#x")))
}
