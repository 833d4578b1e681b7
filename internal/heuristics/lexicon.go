package heuristics

// Lexicon holds every token and phrase list the classifier uses. Phrases
// are matched against lowercased text; tokens against single words.
type Lexicon struct {
	// AckExact are whole messages that are pure acknowledgements.
	AckExact []string `yaml:"ackExact" json:"ackExact"`
	// AckTokens may appear in a 1-4 word acknowledgement; AckCore must.
	AckTokens []string `yaml:"ackTokens" json:"ackTokens"`
	AckCore   []string `yaml:"ackCore" json:"ackCore"`

	GreetingPhrases []string `yaml:"greetingPhrases" json:"greetingPhrases"`
	GreetingFillers []string `yaml:"greetingFillers" json:"greetingFillers"`

	HumanRequest []string `yaml:"humanRequest" json:"humanRequest"`

	Yes []string `yaml:"yes" json:"yes"`
	No  []string `yaml:"no" json:"no"`

	ClarifierTopics []string `yaml:"clarifierTopics" json:"clarifierTopics"`
	QuestionWords   []string `yaml:"questionWords" json:"questionWords"`
	// QuestionStarters mark a question only as the first word after any greeting.
	QuestionStarters []string `yaml:"questionStarters" json:"questionStarters"`
	IntroPatterns   []string `yaml:"introPatterns" json:"introPatterns"`
	FinnishWords    []string `yaml:"finnishWords" json:"finnishWords"`
}

// DefaultLexicon returns the built-in English and Finnish lists.
func DefaultLexicon() Lexicon {
	return Lexicon{
		AckExact: []string{
			"ok", "okay", "okey", "ok ok", "thanks", "thank you", "thx", "ty",
			"great", "perfect", "nice", "cool", "thats cool", "got it",
			"understood", "i understand", "i already understand", "all good", "alright",
			"joo", "juu", "okei", "okkei", "kiitos", "selvä", "hyvä", "jes",
		},
		AckTokens: []string{
			"oh", "ah", "hey", "yo",
			"ok", "okay", "okey", "okei", "okkei", "oke", "okki",
			"thanks", "thank", "you", "thankyou", "thx", "ty", "kiitos",
			"cool", "nice", "great", "perfect", "got", "it", "understood", "understand", "selvä",
		},
		AckCore: []string{
			"ok", "okay", "okey", "okei", "okkei", "oke", "okki",
			"thanks", "thankyou", "thx", "ty", "kiitos", "cool", "great", "got", "understood",
		},
		GreetingPhrases: []string{
			"hi", "hello", "hey", "good morning", "good afternoon", "good evening",
			"morning", "evening", "hei", "moi", "moro", "terve", "morjens", "hyvää huomenta", "päivää",
		},
		GreetingFillers: []string{"there", "all", "everyone", "team", "again"},
		HumanRequest: []string{
			"human", "real person", "a person", "an agent", "live agent", "representative",
			"customer service", "talk to someone", "speak to someone", "speak with someone",
			"asiakaspalvelija", "ihminen", "ihmisen", "soita minulle",
		},
		Yes: []string{"yes", "yeah", "yep", "yup", "sure", "please", "yes please", "kyllä", "kyl", "ok please"},
		No:  []string{"no", "nope", "nah", "not", "no thanks", "ei", "en", "ei kiitos"},
		ClarifierTopics: []string{
			"aurora", "northern lights", "small group", "group tour", "group",
			"pickup", "meeting point", "hotel", "rovaniemi",
		},
		QuestionWords: []string{
			"what", "when", "where", "how", "how long", "how many", "which", "can you", "could you",
			"do you", "is there", "are there", "mikä", "milloin", "missä", "miten", "kuinka",
			"kauanko", "paljonko", "voinko", "voitko", "onko",
		},
		QuestionStarters: []string{
			"is", "are", "do", "does", "did", "can", "could", "will", "would", "should", "may",
			"voiko", "saako", "onko",
		},
		IntroPatterns: []string{
			"my name is", "i'm ", "i am ", "this is ", "i booked", "i have booked", "i did book",
			"we booked", "booking", "reservation", "varasin", "minun nimeni on", "olen ", "varaus", "bookannut",
		},
		FinnishWords: []string{
			"moi", "hei", "kiitos", "varaus", "hinta", "retki", "tapaamispaikka", "kyllä",
			"mikä", "milloin", "missä", "miten", "kuinka", "paljonko", "onko", "voinko", "revontulet",
		},
	}
}
