package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/asdine/storm/v3"
	"github.com/caarlos0/env/v6"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/openmech/godrive/drive"
	"github.com/openmech/godrive/drive/canbus"
	"github.com/openmech/godrive/drive/encoder"
	"github.com/openmech/godrive/drive/hardware"
)

type EnvConfig struct {
	JWT_ISSUER string `env:"DRIVE_DEVICE_ID" envDefault:"DEV"`
	DEBUG      bool   `env:"DEBUG" envDefault:"0"`
	DATADIR    string `env:"DATADIR" envDefault:"./tmp"`
	HTMLDIR    string `env:"HTMLDIR" envDefault:"./frontend/dist/"`
	DB         *storm.DB
	Drive      *drive.Conductor
	Simulated  bool
}

var (
	ENV *EnvConfig
)

func init() {
	// Load main config
	ENV = new(EnvConfig)
	env.Parse(ENV)

	// setup database
	// make sure to init all of the structs
	dbFile, _ := filepath.Abs(filepath.Join(ENV.DATADIR, "drive.db"))
	dir := filepath.Dir(dbFile)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		os.Mkdir(dir, 0755)
	}

	db, err := openDb(dbFile)
	if err != nil {
		panic(err)
	}
	ENV.DB = db

	return
}

func main() {
	// process flags
	simulated := flag.Bool("sim", false, "Run against the simulated drive instead of hardware")
	port := flag.String("port", "0.0.0.0:8080", "Specify the ip:port to listen on")
	configPath := flag.String("config", "./drive_config.yaml", "Path to the drive config file")
	flag.Parse()

	r := chi.NewRouter()

	// A good base middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.RedirectSlashes)
	r.Use(middleware.Recoverer) // make sure this is last

	defer ENV.DB.Close() // close database when finished

	cfg, err := drive.LoadConfig(*configPath)
	if err != nil {
		panic(fmt.Sprintf("Unable to load config: %v", err))
	}

	dec := encoder.NewDecoder(cfg.Encoder.Invert)

	ENV.Simulated = *simulated
	kind := cfg.Driver.Kind
	if ENV.Simulated {
		println("Creating simulated drive")
		kind = drive.DriverSim
	}

	var driver drive.Driver
	switch kind {
	case drive.DriverSim:
		driver = drive.NewSimulatedDrive(dec, cfg)

	case drive.DriverCAN:
		bus, err := canbus.NewCANBus(context.Background(), cfg.Driver.Bus)
		if err != nil {
			panic(fmt.Sprintf("Unable to open CAN bus %s: %v", cfg.Driver.Bus, err))
		}
		driver, err = hardware.NewDriveNode(bus, cfg.Driver.Node)
		if err != nil {
			panic(fmt.Sprintf("Drive node %d failed handshake: %v", cfg.Driver.Node, err))
		}

	case drive.DriverSerial:
		driver, err = hardware.NewSerialDrive(cfg.Driver.Port, cfg.Driver.Baud)
		if err != nil {
			panic(fmt.Sprintf("Unable to open serial drive %s: %v", cfg.Driver.Port, err))
		}

	default:
		panic(fmt.Sprintf("Unknown driver kind %q", cfg.Driver.Kind))
	}
	defer driver.Close()

	conductor := drive.NewConductor(cfg, dec, driver)
	ENV.Drive = conductor

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conductor.Run(ctx)

	//---
	// Create a local shell
	//---
	{
		shell := ishell.New()
		shell.Println("Drive development shell")
		shell.ShowPrompt(true)
		shell.AddCmd(&ishell.Cmd{
			Name: "createsuperuser",
			Help: "createsuperuser <email> <password>",
			Func: func(c *ishell.Context) {
				// disable the '>>>' for cleaner same line input.
				c.ShowPrompt(false)
				defer c.ShowPrompt(true) // yes, revert when done.

				// get email
				var email string
				if len(c.Args) >= 1 {
					email = c.Args[0]
				} else {
					c.Print("Email: ")
					email = c.ReadLine()
				}

				// get password
				var password string
				if len(c.Args) >= 2 {
					password = c.Args[1]
				} else {
					c.Print("Password: ")
					password = c.ReadPassword()
				}

				// create user
				user := &User{
					Email: email,
					Name:  email,
					Admin: true,
				}
				user.SetPassword([]byte(password))
				err := ENV.DB.Save(user)
				if err != nil {
					panic(err)
				}

				c.Println("Superuser created")
			},
		})

		// Add drive specific commands
		shell.AddCmd(&ishell.Cmd{
			Name: "enable",
			Help: "enable the control loop",
			Func: func(c *ishell.Context) {
				conductor.Enable()
				c.Println("enabled")
			},
		})

		shell.AddCmd(&ishell.Cmd{
			Name: "disable",
			Help: "disable the control loop; the drive brakes to a stop",
			Func: func(c *ishell.Context) {
				conductor.Disable()
				c.Println("disabled")
			},
		})

		shell.AddCmd(&ishell.Cmd{
			Name: "setpoint",
			Help: "setpoint <rpm>",
			Func: func(c *ishell.Context) {
				if len(c.Args) != 1 {
					c.Err(fmt.Errorf("usage: setpoint <rpm>"))
					return
				}
				rpm, err := strconv.ParseInt(c.Args[0], 10, 64)
				if err != nil {
					c.Err(err)
					return
				}
				conductor.SetSetpoint(rpm)
				c.Printf("setpoint %d RPM\n", rpm)
			},
		})

		shell.AddCmd(&ishell.Cmd{
			Name: "state",
			Help: "print the current telemetry snapshot",
			Func: func(c *ishell.Context) {
				snap := conductor.Snapshot()
				c.Printf("state:%s fault:%v setpoint:%d measured:%d duty:%d fwd:%v brake:%v count:%d noise:%d\n",
					snap.State, snap.FaultLatched, snap.SetpointRPM, snap.MeasuredRPM,
					snap.Duty, snap.Forward, snap.Brake, snap.EncoderCount, snap.NoiseEvents)
			},
		})

		shell.AddCmd(&ishell.Cmd{
			Name: "estop",
			Help: "emergency stop: cut the output stage immediately",
			Func: func(c *ishell.Context) {
				if err := conductor.EStop(); err != nil {
					c.Err(err)
					return
				}
				c.Println("output stage cut")
			},
		})

		{
			// Tuning profile commands
			profileCmd := &ishell.Cmd{
				Name: "profile",
				Help: "manage saved tuning profiles",
			}

			profileCmd.AddCmd(&ishell.Cmd{
				Name: "save",
				Help: "profile save <name> - store the active gains under a name",
				Func: func(c *ishell.Context) {
					if len(c.Args) != 1 {
						c.Err(fmt.Errorf("usage: profile save <name>"))
						return
					}
					profile := &TuningProfile{
						Name:    c.Args[0],
						Control: conductor.Config().Control,
					}
					if err := ENV.DB.Save(profile); err != nil {
						c.Err(err)
						return
					}
					c.Printf("saved %s\n", profile.Name)
				},
			})

			profileCmd.AddCmd(&ishell.Cmd{
				Name: "load",
				Help: "profile load <name> - retune from a saved profile (drive must be disabled)",
				Func: func(c *ishell.Context) {
					if len(c.Args) != 1 {
						c.Err(fmt.Errorf("usage: profile load <name>"))
						return
					}
					var profile TuningProfile
					if err := ENV.DB.One("Name", c.Args[0], &profile); err != nil {
						c.Err(err)
						return
					}
					if err := conductor.Retune(profile.Control); err != nil {
						c.Err(err)
						return
					}
					c.Printf("loaded %s\n", profile.Name)
				},
			})

			profileCmd.AddCmd(&ishell.Cmd{
				Name: "list",
				Help: "profile list - show saved profiles",
				Func: func(c *ishell.Context) {
					var profiles []TuningProfile
					if err := ENV.DB.All(&profiles); err != nil {
						c.Err(err)
						return
					}
					for _, p := range profiles {
						c.Printf("%-20s kp:%d ki:%d kd:%d\n", p.Name, p.Control.Kp, p.Control.Ki, p.Control.Kd)
					}
				},
			})

			shell.AddCmd(profileCmd)
		}

		shell.AddCmd(&ishell.Cmd{
			Name: "plot",
			Help: "plot <rpm> <seconds> <file.png> - record a simulated step response",
			Func: func(c *ishell.Context) {
				if len(c.Args) != 3 {
					c.Err(fmt.Errorf("usage: plot <rpm> <seconds> <file.png>"))
					return
				}
				rpm, err := strconv.ParseInt(c.Args[0], 10, 64)
				if err != nil {
					c.Err(err)
					return
				}
				seconds, err := strconv.ParseFloat(c.Args[1], 64)
				if err != nil {
					c.Err(err)
					return
				}

				c.ProgressBar().Indeterminate(true)
				c.ProgressBar().Start()
				points, err := drive.StepResponse(conductor.Config(), rpm, time.Duration(seconds*float64(time.Second)))
				c.ProgressBar().Stop()
				if err != nil {
					c.Err(err)
					return
				}

				if err := drive.WriteStepPlot(points, rpm, c.Args[2]); err != nil {
					c.Err(err)
					return
				}
				c.Printf("wrote %s\n", c.Args[2])
			},
		})

		// Start an instance of the shell so it can be controlled from the CLI
		go shell.Start()
	}

	//---
	// Build the API routes
	//---
	r.Route("/api", func(r chi.Router) {
		// login
		r.Post("/login", Login)

		r.Route("/", func(r chi.Router) {
			// Seek, verify and validate JWT tokens
			r.Use(ValidateJWT)

			r.Get("/refresh_token", JWTRefresh)

			r.Route("/drive", func(r chi.Router) {
				r.Get("/status", DriveStatus)
				r.Post("/setpoint", DriveSetpoint)
				r.Post("/enable", DriveEnable)
				r.Post("/disable", DriveDisable)
				r.Post("/estop", DriveEStop)
			})

			r.Route("/profiles", func(r chi.Router) {
				r.Get("/", ListProfiles)
				r.Post("/", SaveProfile)
				r.Post("/{name}/apply", ApplyProfile)
			})
		})

	})

	// Add websocket routes
	r.Route("/ws", func(r chi.Router) {
		if !ENV.DEBUG {
			// Enable JWT validation in production
			r.Use(ValidateJWT)
		} else {
			fmt.Println("Running in debug mode. Authentication disabled.")
		}

		r.Get("/echo", EchoHandler)
		r.Get("/telemetry", TelemetryHandler)
	})

	// add static base routes
	FileServer(r, "/", http.Dir(ENV.HTMLDIR))

	fmt.Println("Listening on port", *port)
	if err := http.ListenAndServe(*port, r); err != nil {
		log.Fatal(err)
	}
}

func openDb(dbFile string) (db *storm.DB, err error) {
	db, err = storm.Open(dbFile)
	if err != nil {
		return
	}

	// call inits for each type
	if err := db.Init(&User{}); err != nil {
		return nil, err
	}
	if err := db.Init(&TuningProfile{}); err != nil {
		return nil, err
	}

	return
}

// FileServer conveniently sets up a http.FileServer handler to serve
// static files from a http.FileSystem.
func FileServer(r chi.Router, path string, root http.FileSystem) {
	if strings.ContainsAny(path, "{}*") {
		panic("FileServer does not permit URL parameters.")
	}

	fs := http.StripPrefix(path, http.FileServer(root))

	if path != "/" && path[len(path)-1] != '/' {
		r.Get(path, http.RedirectHandler(path+"/", 301).ServeHTTP)
		path += "/"
	}
	path += "*"

	r.Get(path, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.ServeHTTP(w, r)
	}))
}
