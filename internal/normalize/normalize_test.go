package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Émile Zola", "emile zola"},
		{"Gabriel García Márquez", "gabriel garcia marquez"},
		{"PLAIN ASCII", "plain ascii"},
		{"  padded  ", "padded"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Fold(tt.input), "input %q", tt.input)
	}
}

func TestTitle(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"leading article", "The Left Hand of Darkness", "left hand of darkness"},
		{"article a", "A Wizard of Earthsea", "wizard of earthsea"},
		{"punctuation", "Don't Panic: A Guide", "dont panic guide"},
		{"accents", "Les Misérables", "les miserables"},
		{"whitespace collapse", "Dune    Messiah", "dune messiah"},
		{"subtitle colon", "Piranesi: A Novel", "piranesi novel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Title(tt.input))
		})
	}
}

func TestTitle_ArticleNotStripped(t *testing.T) {
	// "a" must only be stripped as a standalone leading article
	assert.Equal(t, "atlas shrugged", Title("Atlas Shrugged"))
	assert.Equal(t, "theory of everything", Title("Theory of Everything"))
}

func TestPerson(t *testing.T) {
	// Names keep leading articles; "An Yu" is a real author name
	assert.Equal(t, "an yu", Person("An Yu"))
	assert.Equal(t, "ursula k le guin", Person("Ursula K. Le Guin"))
	assert.Equal(t, "jose saramago", Person("José Saramago"))
}

func TestISBN(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"isbn13 hyphens", "978-0-441-47812-5", "9780441478125"},
		{"isbn13 bare", "9780441478125", "9780441478125"},
		{"isbn10", "0-441-47812-3", "0441478123"},
		{"isbn10 x check", "0-8044-2957-x", "080442957X"},
		{"spaces", "978 0441478125", "9780441478125"},
		{"too short", "12345", ""},
		{"too long", "97804414781250", ""},
		{"letters", "not-an-isbn", ""},
		{"x in isbn13", "978044147812X", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ISBN(tt.input))
		})
	}
}

func TestLanguageCode(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"en", "en"},
		{"eng", "en"},
		{"fre", "fr"},  // 639-2/B bibliographic
		{"en-US", "en"},
		{"en_GB", "en"},
		{"English", "en"},
		{"GERMAN", "de"},
		{"xyzzy", ""},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, LanguageCode(tt.input), "input %q", tt.input)
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"tags", "<p>Hello <b>world</b></p>", "Hello world"},
		{"entities", "War &amp; Peace", "War & Peace"},
		{"plain", "no markup here", "no markup here"},
		{"empty", "", ""},
		{"nested blocks", "<div><p>One</p><p>Two</p></div>", "One Two"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripHTML(tt.input))
		})
	}
}

func TestDescriptionMarkdown(t *testing.T) {
	t.Run("converts html", func(t *testing.T) {
		out := DescriptionMarkdown("<p>A <b>classic</b> of the genre.</p>")
		assert.Contains(t, out, "**classic**")
		assert.NotContains(t, out, "<p>")
	})

	t.Run("plain text unchanged", func(t *testing.T) {
		assert.Equal(t, "Just a plain description.", DescriptionMarkdown("Just a plain description."))
	})

	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, "", DescriptionMarkdown(""))
	})
}
