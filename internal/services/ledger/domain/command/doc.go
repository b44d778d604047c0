// Package command defines the closed set of ledger commands.
//
// A command is one validated intent against exactly one aggregate. Values are
// immutable: fields are unexported and constructors are the only way to build
// one, so a command that exists has already passed validation. Each variant
// carries a type discriminator and a schema version fixed at construction.
// New intents become new variants; a shape change to an existing variant
// bumps its version and keeps the old version decodable in the codec.
package command
