// Package capture turns a stream of microphone frames into utterances.
//
// A [Calibrator] measures ambient loudness once and publishes a
// [ThresholdState]. A [Segmenter] consumes frames from an input stream and
// classifies each one as speech when the VAD says so AND the frame is louder
// than the calibrated threshold. The first speech frame starts an utterance;
// once the audio time since the last speech frame exceeds the silence
// timeout, a single block of digital silence is appended and the utterance is
// returned.
//
// All durations are measured in audio time (frames consumed × frame length),
// never wall-clock time, so results are deterministic for a given input.
package capture
