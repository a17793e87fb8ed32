package plain

// Application is the lifecycle hooked into Main.Run.
type Application interface {
	// Create is called once before the loop starts.
	Create(args []string)

	// Destroy is called once right before Run returns.
	Destroy()

	// Idle is called once per reactor tick, between the readiness wait
	// and the next one.
	Idle()
}

// BaseApplication is a no-op Application, to embed and override.
type BaseApplication struct{}

func (*BaseApplication) Create(args []string) {}

func (*BaseApplication) Destroy() {}

func (*BaseApplication) Idle() {}
