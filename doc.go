/*
Package track drives media processing chains.

Concept

A track is one unit of work: a file conversion, a playback, a recording or
a mix. Every track owns an ordered chain of stages, for example:

    queue.track
    -> file.in
    -> wav.decode -> sound.until -> ui.tui -> sound.gain -> sound.conv
    -> wav.encode
    -> file.out

The chain is built by the Engine from the track kind, the source and the
engine configuration. Stages are resolved by name, or by file extension,
through the Modules registry.

Stages

Every stage implements the Stage interface. Open is called lazily, the
first time data reaches the stage, and returns a Filter which processes
data and is closed exactly once when the track is torn down. Open may
return ErrSkip to remove the stage from the chain without ever processing
or closing it.

Flow control

The chain is driven by a cursor on a single goroutine. Process returns a
Result which tells the cursor where to go next:

    ResultMore     - step back, the stage needs more input;
    ResultOK       - step forward with the produced output;
    ResultData     - step forward and come back even if input is empty;
    ResultDone     - remove the stage and step forward;
    ResultDonePrev - remove the stage and step back;
    ResultLastOut  - remove the stage with everything upstream of it;
    ResultAsync    - suspend until Track.Resume is called;
    ResultFin      - finish the track.

Stepping forward past the last stage finishes the track successfully.
Stepping back past the first stage fails it with ErrStarvedPipeline.

Stages exchange values through the track stores: Props.Values for working
values like "input" and "output", and Props.Tags for metadata.
*/
package track
