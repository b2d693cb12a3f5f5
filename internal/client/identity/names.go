package identity

import (
	"fmt"
	"math/rand"
)

var adjectives = []string{
	"Swift", "Brave", "Calm", "Clever", "Eager",
	"Gentle", "Happy", "Lucky", "Merry", "Nimble",
	"Proud", "Quiet", "Sunny", "Witty", "Bold",
}

var animals = []string{
	"Fox", "Owl", "Wolf", "Bear", "Hawk",
	"Lynx", "Otter", "Panda", "Raven", "Seal",
	"Tiger", "Crane", "Deer", "Finch", "Hare",
}

// RandomName generates a friendly display name like "Swift-Fox-42" for
// first-time users who have not picked one.
func RandomName() string {
	return fmt.Sprintf("%s-%s-%d",
		adjectives[rand.Intn(len(adjectives))],
		animals[rand.Intn(len(animals))],
		rand.Intn(100))
}
