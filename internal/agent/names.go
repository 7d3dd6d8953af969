package agent

import "math/rand/v2"

var firstNames = []string{
	"Alex", "Bailey", "Casey", "Dakota", "Elliott", "Finley", "Gray", "Harper",
	"Jordan", "Kai", "Logan", "Morgan", "Noah", "Parker", "Quinn", "Riley",
	"Sage", "Taylor", "Avery", "Blake", "Charlie", "Drew", "Emerson", "Frankie",
	"Jamie", "Kelly", "Lee", "Mason", "Noel", "Peyton", "Reese", "Skyler",
	"Tatum", "Whitney", "Zion", "Phoenix", "River", "Rowan", "Sawyer", "Sidney",
}

var lastNames = []string{
	"Smith", "Johnson", "Williams", "Jones", "Brown", "Davis", "Miller", "Wilson",
	"Moore", "Taylor", "Anderson", "Thomas", "Jackson", "White", "Harris", "Martin",
	"Thompson", "Garcia", "Martinez", "Robinson", "Clark", "Rodriguez", "Lewis", "Lee",
	"Walker", "Hall", "Allen", "Young", "Hernandez", "King", "Wright", "Lopez",
	"Hill", "Scott", "Green", "Adams", "Baker", "Gonzalez", "Nelson", "Carter",
	"Mitchell", "Perez", "Roberts", "Turner", "Phillips", "Campbell", "Parker", "Evans",
	"Edwards", "Collins", "Stewart", "Sanchez", "Morris", "Rogers", "Reed", "Cook",
	"Morgan", "Bell", "Murphy", "Bailey", "Rivera", "Cooper", "Richardson", "Cox",
	"Howard", "Ward", "Torres", "Peterson", "Gray", "Ramirez", "James", "Watson",
}

// RandomName picks a display name for a new agent.
func RandomName() (first, last string) {
	return firstNames[rand.IntN(len(firstNames))], lastNames[rand.IntN(len(lastNames))]
}
