package testdata

// KeyVector is a known PBKDF2 derivation.
type KeyVector struct {
	Name     string
	Password string
	Salt     string
	Key      string // Hex
}

// EnvelopeVector is a known seal with a fixed IV.
type EnvelopeVector struct {
	Key       string // Hex
	IV        string // Hex
	Plaintext string
	Cipher    string // Base64
	HMAC      string // Hex
}

// KeyVectors contains derivations computed independently of this package.
var KeyVectors = []KeyVector{
	{
		Name:     "short password",
		Password: "p",
		Salt:     "device-0001",
		Key:      "75bfa89df609fa616593abbd4219e3f531a13fdf108a0ae035c6dd7277bacd28",
	},
	{
		Name:     "wrong password same device",
		Password: "wrong",
		Salt:     "device-0001",
		Key:      "f812c86dfbae65cacd70d88d4b2718fd10be773c41de2634e8861140eb3d2c1c",
	},
	{
		Name:     "same password other device",
		Password: "p",
		Salt:     "device-0002",
		Key:      "90f1eabacea85c9b913617adbfdc023c180c454a638aa91b9ce9309104408f88",
	},
	{
		Name:     "uuid salt",
		Password: "correct horse battery staple",
		Salt:     "3f1c9a7e-5b2d-4e8f-a6c1-0d9e8b7a6f54",
		Key:      "69c88061de2c95a1df4a223636c1cff1a3b5727d0dc5c6551b0156af83c331d4",
	},
}

// Envelope is sealed under the "short password" key.
var Envelope = EnvelopeVector{
	Key:       "75bfa89df609fa616593abbd4219e3f531a13fdf108a0ae035c6dd7277bacd28",
	IV:        "000102030405060708090a0b0c0d0e0f",
	Plaintext: "hello strongroom",
	Cipher:    "ZPV0vaGI78FZEwUGMnHAD6/G95d5YZTPGMSz8cM9spk=",
	HMAC:      "0ce79141a836080a31d2abdba85fcc992926c0de87f9343c03a20561cf9a4782",
}
