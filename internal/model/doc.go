// Package model is the boundary to the pretrained generative model.
//
// The network itself runs behind a Backend (in process for development,
// or on a model server reached through internal/model/remote). This package
// loads the checkpoint manifest, extracts the read-only Config and selects
// the decoder variant once, at configuration-load time.
package model
