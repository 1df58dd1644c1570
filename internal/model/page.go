package model

// Page is the plain text of one PDF page. Number is 1-based and follows document order.
type Page struct {
	Number int
	Text   string
}
