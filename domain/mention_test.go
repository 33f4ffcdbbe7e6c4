package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractMentions_Order_Of_First_Appearance(t *testing.T) {
	req := require.New(t)

	mentions := ExtractMentions("hello @Bob and @alice99!")

	req.Equal([]string{"Bob", "alice99"}, mentions)
}

func TestExtractMentions_No_Tokens(t *testing.T) {
	req := require.New(t)

	req.Empty(ExtractMentions("nothing to see here"))
	req.Empty(ExtractMentions(""))
}

func TestExtractMentions_Keeps_Duplicates(t *testing.T) {
	req := require.New(t)

	mentions := ExtractMentions("@Bob ping, @Bob pong, @clara")

	req.Equal([]string{"Bob", "Bob", "clara"}, mentions)
}

func TestExtractMentions_Stops_At_Non_Word_Characters(t *testing.T) {
	req := require.New(t)

	mentions := ExtractMentions("mail me@example.com or ping @under_score")

	req.Equal([]string{"example", "under_score"}, mentions)
}
