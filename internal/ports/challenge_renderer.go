package ports

type ChallengeRenderer interface {
	Render(challenge string) (string, error)
}
