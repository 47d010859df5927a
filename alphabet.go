package markov

import "strconv"

// Alphabet maps between state or symbol names and integer IDs.
type Alphabet struct {
	ToID  map[string]int
	ToStr []string
}

// NewAlphabet creates an alphabet holding names in order.
func NewAlphabet(names ...string) *Alphabet {
	a := &Alphabet{ToID: make(map[string]int, len(names))}
	for _, name := range names {
		a.Add(name)
	}
	return a
}

// indexAlphabet names n entries "0", "1", ...
func indexAlphabet(n int) *Alphabet {
	a := &Alphabet{ToID: make(map[string]int, n)}
	for i := range n {
		a.Add(strconv.Itoa(i))
	}
	return a
}

// Add adds a name to the alphabet if not already present, returns its ID.
func (a *Alphabet) Add(s string) int {
	if id, ok := a.ToID[s]; ok {
		return id
	}
	id := len(a.ToStr)
	a.ToID[s] = id
	a.ToStr = append(a.ToStr, s)
	return id
}

// Get returns the ID for a name, or -1 if not found.
func (a *Alphabet) Get(s string) int {
	if id, ok := a.ToID[s]; ok {
		return id
	}
	return -1
}

// Name returns the name of id.
func (a *Alphabet) Name(id int) string {
	return a.ToStr[id]
}

// Size returns the number of entries.
func (a *Alphabet) Size() int {
	return len(a.ToStr)
}
