package types

// Version is the conveyor release version.
const Version = "0.3.0"
