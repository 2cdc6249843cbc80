package qa

import (
	"fmt"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding is the BPE used by the gpt-3.5 and gpt-4 chat models.
const DefaultEncoding = "cl100k_base"

// Tokenizer counts language-model tokens.
type Tokenizer interface {
	Count(text string) int
}

var loaderOnce sync.Once

// TiktokenTokenizer counts tokens with an OpenAI BPE encoding. The ranks are
// compiled into the binary, so no network access is needed.
type TiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

func NewTiktokenTokenizer(encoding string) (*TiktokenTokenizer, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load %s encoding: %w", encoding, err)
	}
	return &TiktokenTokenizer{enc: enc}, nil
}

func (t *TiktokenTokenizer) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

// DefaultTokenizer returns a cl100k_base counter, or the estimator when the
// encoding cannot be loaded.
func DefaultTokenizer() Tokenizer {
	tok, err := NewTiktokenTokenizer(DefaultEncoding)
	if err != nil {
		return EstimateTokenizer{}
	}
	return tok
}

// EstimateTokenizer approximates BPE tokenizers used by chat models: a token
// per word or punctuation mark, and at least one token per four characters.
type EstimateTokenizer struct{}

func (EstimateTokenizer) Count(text string) int {
	if text == "" {
		return 0
	}

	words := 0
	inWord := false
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if !inWord {
				words++
				inWord = true
			}
		case unicode.IsSpace(r):
			inWord = false
		default:
			words++
			inWord = false
		}
	}

	return max(words, (utf8.RuneCountInString(text)+3)/4)
}
