package localmodel

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/model"
	"github.com/sugarme/tokenizer/model/wordpiece"
	"github.com/sugarme/tokenizer/normalizer"
	"github.com/sugarme/tokenizer/pretokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

const (
	tokenUnknown = "[UNK]"
	tokenCLS     = "[CLS]"
	tokenSEP     = "[SEP]"
	tokenPad     = "[PAD]"

	maxCharsPerWord = 100
)

// Encoding is a fixed-length model input.
type Encoding struct {
	IDs           []int
	AttentionMask []int
}

// Len returns the number of real (non-padding) positions.
func (e Encoding) Len() int {
	n := 0
	for _, m := range e.AttentionMask {
		n += m
	}
	return n
}

// Tokenizer is an uncased BERT WordPiece tokenizer with a fixed sequence
// length. It is read-only after construction.
type Tokenizer struct {
	tk     *tokenizer.Tokenizer
	size   int
	maxLen int
	unkID  int
	clsID  int
	sepID  int
	padID  int
}

// NewTokenizer builds a BERT uncased pipeline over vocab. The index of a
// token is its ID.
func NewTokenizer(vocab []string, maxLen int) (*Tokenizer, error) {
	v := make(model.Vocab, len(vocab))
	for i, tok := range vocab {
		if _, dup := v[tok]; !dup {
			v[tok] = i
		}
	}
	wp := wordpiece.NewWordPieceBuilder().
		Vocab(&v).
		UnkToken(tokenUnknown).
		MaxInputCharsPerWord(maxCharsPerWord).
		Build()

	tk := tokenizer.NewTokenizer(wp)
	tk.WithNormalizer(normalizer.NewBertNormalizer(true, true, true, true))
	tk.WithPreTokenizer(pretokenizer.NewBertPreTokenizer())
	return newTokenizer(tk, len(vocab), maxLen)
}

// LoadTokenizerJSON reads a Hugging Face tokenizer.json. Its truncation and
// padding settings are dropped; Encode applies maxLen itself.
func LoadTokenizerJSON(path string, maxLen int) (*Tokenizer, error) {
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	tk.WithTruncation(nil)
	tk.WithPadding(nil)
	return newTokenizer(tk, tk.GetVocabSize(true), maxLen)
}

func newTokenizer(tk *tokenizer.Tokenizer, size, maxLen int) (*Tokenizer, error) {
	if maxLen < 2 {
		return nil, fmt.Errorf("max sequence length must be >= 2, got %d", maxLen)
	}
	t := &Tokenizer{tk: tk, size: size, maxLen: maxLen}
	for _, special := range []struct {
		token string
		id    *int
	}{
		{tokenUnknown, &t.unkID},
		{tokenCLS, &t.clsID},
		{tokenSEP, &t.sepID},
		{tokenPad, &t.padID},
	} {
		id, ok := tk.TokenToId(special.token)
		if !ok {
			return nil, fmt.Errorf("vocabulary is missing %s", special.token)
		}
		*special.id = id
	}
	return t, nil
}

// LoadVocab reads a vocab.txt file with one token per line. The line number
// is the token ID.
func LoadVocab(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var vocab []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		vocab = append(vocab, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(vocab) == 0 {
		return nil, fmt.Errorf("%s is empty", path)
	}
	return vocab, nil
}

func (t *Tokenizer) VocabSize() int { return t.size }
func (t *Tokenizer) MaxLen() int    { return t.maxLen }

// Tokenize returns the WordPiece tokens of text without special tokens.
func (t *Tokenizer) Tokenize(text string) ([]string, error) {
	enc, err := t.tk.EncodeSingle(text, false)
	if err != nil {
		return nil, fmt.Errorf("tokenizing: %w", err)
	}
	return enc.Tokens, nil
}

// Encode wraps the tokens in [CLS]/[SEP], truncates to the max sequence
// length and pads the rest with [PAD].
func (t *Tokenizer) Encode(text string) (Encoding, error) {
	var ids []int
	if strings.TrimSpace(text) != "" {
		enc, err := t.tk.EncodeSingle(text, false)
		if err != nil {
			return Encoding{}, fmt.Errorf("tokenizing: %w", err)
		}
		ids = enc.Ids
	}
	if len(ids) > t.maxLen-2 {
		ids = ids[:t.maxLen-2]
	}

	out := Encoding{
		IDs:           make([]int, t.maxLen),
		AttentionMask: make([]int, t.maxLen),
	}
	out.IDs[0], out.AttentionMask[0] = t.clsID, 1
	for i, id := range ids {
		out.IDs[i+1], out.AttentionMask[i+1] = id, 1
	}
	sep := len(ids) + 1
	out.IDs[sep], out.AttentionMask[sep] = t.sepID, 1
	for i := sep + 1; i < t.maxLen; i++ {
		out.IDs[i] = t.padID
	}
	return out, nil
}
