package models

// Candidate is a single generated reply option. Length is the number of
// characters (runes) in Content, attached for client-side display decisions.
type Candidate struct {
	Content string `json:"content"`
	Length  int    `json:"length"`
}

// Suggestions is the ranked list of candidate replies produced for one
// suggestion request.
type Suggestions struct {
	Contents []Candidate `json:"contents"`
	Length   int         `json:"length"`
}
