// Package bootseq runs the boot sequence of an application: an ordered list of initialization phases that must all
// complete before the application is ready to serve work. The first failing phase halts the sequence and its error is
// reported back to the caller.
//
// Quick Start
//
//	type App struct {
//		*bootseq.Sequencer[*App]
//		db *sql.DB
//	}
//
//	app := &App{}
//	app.Sequencer = bootseq.New(app)
//	app.Phase(connectDB)                                  // func(ctx context.Context, app *App) error
//	app.Phase(warmCaches)                                 // func(ctx context.Context, app *App, next bootseq.Next) error
//	app.Phase(bootseq.InitializersIn[*App]("etc/init"))   // every initializer in etc/init, in file name order
//
//	if err := app.Boot(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//
//	// Your application is now ready!
//
// Phases come in three shapes. A Func runs to completion and the sequence advances when it returns. An AsyncFunc and a
// Booter receive a Next continuation and decide themselves when the sequence advances, possibly from another
// goroutine. Phases never run concurrently with each other: phase n+1 starts only after phase n has signalled
// completion.
//
// Without WithLogger, warnings and errors are written to standard error, so a failed run is reported even if nobody
// waits for its Result.
//
// Running the same Sequencer twice at the same time is not supported.
package bootseq
